// Package testutils provides test-only API endpoints.
// These routes are only registered when ENVIRONMENT=test.
package testutils

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers test-only routes.
// These endpoints should ONLY be registered in test environments.
func RegisterRoutes(e *echo.Echo, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		db:             db,
		maxRetries:     cfg.DatabaseMaxRetries,
		authMiddleware: authMiddleware,
	}

	test := e.Group("/test")
	test.POST("/tokens", h.createToken)
	test.POST("/wallets", h.fundWallet)
	test.DELETE("/data", h.deleteAllData)
}
