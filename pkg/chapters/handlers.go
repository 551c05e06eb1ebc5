package chapters

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/storyvault/storyvault/pkg/stories"
)

type handler struct {
	chapterService *Service
	storyService   *stories.Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	storyID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}

	params := ListChaptersQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	story, err := h.storyService.RetrieveStory(ctx, stories.RetrieveStoryOptions{ID: &storyID})
	if err != nil {
		return errors.WithStack(err)
	}

	opts := ListChaptersOptions{
		StoryID: &story.ID,
		Limit:   &params.Limit,
		Offset:  &params.Offset,
	}
	if !isAdmin(c) {
		if !story.IsPublished {
			return errcodes.NotFound("Story")
		}
		published := true
		opts.IsPublished = &published
	}

	chapters, total, err := h.chapterService.ListChaptersWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Chapters []*models.Chapter `json:"chapters"`
		Total    int               `json:"total"`
	}{chapters, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	storyID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Story")
	}

	params := CreateChapterPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	chapter := &models.Chapter{
		StoryID:         storyID,
		Title:           params.Title,
		SortOrder:       params.SortOrder,
		IsPaid:          params.IsPaid,
		Price:           params.Price,
		IsPublished:     params.IsPublished,
		IsFeatured:      params.IsFeatured,
		CommentsEnabled: params.CommentsEnabled,
	}
	if err := h.chapterService.CreateChapter(ctx, chapter); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, chapter))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Chapter")
	}

	params := UpdateChapterPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	chapter, err := h.chapterService.RetrieveChapter(ctx, RetrieveChapterOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateChapterOptions{Columns: []string{}}
	if params.Title != nil && *params.Title != chapter.Title {
		chapter.Title = *params.Title
		opts.Columns = append(opts.Columns, "title")
	}
	if params.SortOrder != nil && *params.SortOrder != chapter.SortOrder {
		chapter.SortOrder = *params.SortOrder
		opts.Columns = append(opts.Columns, "sort_order")
	}
	if params.IsPaid != nil && *params.IsPaid != chapter.IsPaid {
		chapter.IsPaid = *params.IsPaid
		opts.Columns = append(opts.Columns, "is_paid")
	}
	if params.Price != nil && *params.Price != chapter.Price {
		chapter.Price = *params.Price
		opts.Columns = append(opts.Columns, "price")
	}
	if params.IsPublished != nil && *params.IsPublished != chapter.IsPublished {
		chapter.IsPublished = *params.IsPublished
		opts.Columns = append(opts.Columns, "is_published")
	}
	if params.IsFeatured != nil && *params.IsFeatured != chapter.IsFeatured {
		chapter.IsFeatured = *params.IsFeatured
		opts.Columns = append(opts.Columns, "is_featured")
	}
	if params.CommentsEnabled != nil && *params.CommentsEnabled != chapter.CommentsEnabled {
		chapter.CommentsEnabled = *params.CommentsEnabled
		opts.Columns = append(opts.Columns, "comments_enabled")
	}

	if err := h.chapterService.UpdateChapter(ctx, chapter, opts); err != nil {
		return errors.WithStack(err)
	}

	chapter, err = h.chapterService.RetrieveChapter(ctx, RetrieveChapterOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, chapter))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Chapter")
	}

	if err := h.chapterService.DeleteChapter(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) move(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Chapter")
	}

	params := MoveChapterPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	chapter, err := h.chapterService.MoveChapter(ctx, id, params.StoryID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, chapter))
}

func (h *handler) bulkUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	params := BulkUpdatePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	result, err := h.chapterService.BulkUpdateChapters(ctx, BulkUpdateRequest{
		StoryID:    params.StoryID,
		ChapterIDs: params.ChapterIDs,
		Fields:     params.Fields,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) repair(c echo.Context) error {
	ctx := c.Request().Context()

	params := RepairPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	results, err := h.chapterService.RepairStories(ctx, params.StoryIDs)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
	}))
}

func isAdmin(c echo.Context) bool {
	user, ok := auth.UserFromContext(c)
	return ok && user.IsAdmin()
}
