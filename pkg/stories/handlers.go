package stories

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
)

type handler struct {
	storyService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListStoriesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListStoriesOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
	}
	if !isAdmin(c) {
		published := true
		opts.IsPublished = &published
	}

	stories, total, err := h.storyService.ListStoriesWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Stories []*models.Story `json:"stories"`
		Total   int             `json:"total"`
	}{stories, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	story, err := h.lookup(c)
	if err != nil {
		return err
	}
	if !story.IsPublished && !isAdmin(c) {
		return errcodes.NotFound("Story")
	}

	return errors.WithStack(c.JSON(http.StatusOK, story))
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	params := CreateStoryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	story := &models.Story{
		Title:       params.Title,
		Slug:        params.Slug,
		Description: params.Description,
		AuthorID:    params.AuthorID,
		IsPublished: params.IsPublished,
		IsPaid:      params.IsPaid,
		Price:       params.Price,
	}
	if err := h.storyService.CreateStory(ctx, story); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, story))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()

	story, err := h.lookup(c)
	if err != nil {
		return err
	}

	params := UpdateStoryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateStoryOptions{Columns: []string{}}
	if params.Title != nil && *params.Title != story.Title {
		story.Title = *params.Title
		opts.Columns = append(opts.Columns, "title")
	}
	if params.Slug != nil && *params.Slug != story.Slug {
		story.Slug = *params.Slug
		opts.Columns = append(opts.Columns, "slug")
	}
	if params.Description != nil {
		story.Description = params.Description
		opts.Columns = append(opts.Columns, "description")
	}
	if params.AuthorID != nil {
		story.AuthorID = params.AuthorID
		opts.Columns = append(opts.Columns, "author_id")
	}
	if params.IsPublished != nil && *params.IsPublished != story.IsPublished {
		story.IsPublished = *params.IsPublished
		opts.Columns = append(opts.Columns, "is_published")
	}
	if params.IsPaid != nil && *params.IsPaid != story.IsPaid {
		story.IsPaid = *params.IsPaid
		opts.Columns = append(opts.Columns, "is_paid")
	}
	if params.Price != nil && *params.Price != story.Price {
		story.Price = *params.Price
		opts.Columns = append(opts.Columns, "price")
	}

	if err := h.storyService.UpdateStory(ctx, story, opts); err != nil {
		return errors.WithStack(err)
	}

	story, err = h.storyService.RetrieveStory(ctx, RetrieveStoryOptions{ID: &story.ID})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, story))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}

	if err := h.storyService.DeleteStory(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

// lookup resolves the :id param, which may be a numeric id or a slug.
func (h *handler) lookup(c echo.Context) (*models.Story, error) {
	ctx := c.Request().Context()
	param := c.Param("id")

	opts := RetrieveStoryOptions{}
	if id, err := strconv.Atoi(param); err == nil {
		opts.ID = &id
	} else {
		opts.Slug = &param
	}

	story, err := h.storyService.RetrieveStory(ctx, opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return story, nil
}

func isAdmin(c echo.Context) bool {
	user, ok := auth.UserFromContext(c)
	return ok && user.IsAdmin()
}
