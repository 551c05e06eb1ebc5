package purchases

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/errcodes"
)

type handler struct {
	purchaseService *Service
}

func (h *handler) purchaseStory(c echo.Context) error {
	ctx := c.Request().Context()

	storyID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	receipt, err := h.purchaseService.PurchaseStory(ctx, user.ID, storyID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, receipt))
}

func (h *handler) purchaseChapter(c echo.Context) error {
	ctx := c.Request().Context()

	chapterID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Chapter")
	}
	user, ok := auth.UserFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	receipt, err := h.purchaseService.PurchaseChapter(ctx, user.ID, chapterID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, receipt))
}

func (h *handler) record(c echo.Context) error {
	ctx := c.Request().Context()

	user, ok := auth.UserFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	record, err := h.purchaseService.RetrievePurchaseRecord(ctx, user.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, record))
}

func (h *handler) refund(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Purchase")
	}

	purchase, err := h.purchaseService.RefundPurchase(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, purchase))
}

func (h *handler) expire(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Purchase")
	}

	purchase, err := h.purchaseService.ExpirePurchase(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, purchase))
}

func (h *handler) revenue(c echo.Context) error {
	ctx := c.Request().Context()

	storyID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}

	revenue, err := h.purchaseService.StoryRevenue(ctx, storyID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, revenue))
}
