package jobs

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers job routes on the admin group.
func RegisterRoutes(admin *echo.Group, db *bun.DB) {
	h := &handler{
		jobService: NewService(db),
	}

	admin.POST("/reconcile", h.reconcile)
	admin.GET("/jobs", h.list)
	admin.GET("/jobs/:id", h.retrieve)
}
