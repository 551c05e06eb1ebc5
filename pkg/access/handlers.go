package access

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/stories"
)

type handler struct {
	resolver     *Resolver
	storyService *stories.Service
}

func (h *handler) check(c echo.Context) error {
	ctx := c.Request().Context()

	storyID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}

	params := CheckAccessQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	// Unpublished stories don't exist for anyone but admins.
	story, err := h.storyService.RetrieveStory(ctx, stories.RetrieveStoryOptions{ID: &storyID})
	if err != nil {
		return errors.WithStack(err)
	}
	if !story.IsPublished && !isAdmin(c) {
		return errcodes.NotFound("Story")
	}

	decision, err := h.resolver.CheckAccess(ctx, auth.UserIDFromContext(c), storyID, params.ChapterID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, decision))
}

func isAdmin(c echo.Context) bool {
	user, ok := auth.UserFromContext(c)
	return ok && user.IsAdmin()
}
