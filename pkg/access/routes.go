package access

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/stories"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		resolver:     NewResolver(db),
		storyService: stories.NewService(db, cfg.DatabaseMaxRetries),
	}

	e.GET("/stories/:id/access", h.check, authMiddleware.AuthenticateOptional)
}
