package chapters

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/stories"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, admin *echo.Group, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		chapterService: NewService(db, cfg),
		storyService:   stories.NewService(db, cfg.DatabaseMaxRetries),
	}

	e.GET("/stories/:id/chapters", h.list, authMiddleware.AuthenticateOptional)
	e.POST("/stories/:id/chapters", h.create, authMiddleware.Authenticate, authMiddleware.RequireAdmin)

	e.PATCH("/chapters/:id", h.update, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	e.DELETE("/chapters/:id", h.delete, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	e.POST("/chapters/:id/move", h.move, authMiddleware.Authenticate, authMiddleware.RequireAdmin)

	admin.POST("/chapters/bulk", h.bulkUpdate)
	admin.POST("/stories/repair", h.repair)
}
