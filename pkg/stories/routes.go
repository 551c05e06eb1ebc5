package stories

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		storyService: NewService(db, cfg.DatabaseMaxRetries),
	}

	g := e.Group("/stories")
	g.GET("", h.list, authMiddleware.AuthenticateOptional)
	g.GET("/:id", h.retrieve, authMiddleware.AuthenticateOptional)
	g.POST("", h.create, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	g.PATCH("/:id", h.update, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	g.DELETE("/:id", h.delete, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
}
