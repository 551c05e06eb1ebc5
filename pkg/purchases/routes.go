package purchases

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers the purchase endpoints. admin must already require
// an authenticated admin.
func RegisterRoutes(e *echo.Echo, admin *echo.Group, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		purchaseService: NewService(db, cfg.DatabaseMaxRetries),
	}

	e.POST("/stories/:id/purchase", h.purchaseStory, authMiddleware.Authenticate)
	e.POST("/chapters/:id/purchase", h.purchaseChapter, authMiddleware.Authenticate)
	e.GET("/me/purchases", h.record, authMiddleware.Authenticate)

	admin.POST("/purchases/:id/refund", h.refund)
	admin.POST("/purchases/:id/expire", h.expire)
	admin.GET("/stories/:id/revenue", h.revenue)
}
