package joblogs

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/jobs"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers job log routes on the admin group.
func RegisterRoutes(admin *echo.Group, db *bun.DB) {
	h := &handler{
		jobLogService: NewService(db),
		jobService:    jobs.NewService(db),
	}

	admin.GET("/jobs/:id/logs", h.listLogs)
}
