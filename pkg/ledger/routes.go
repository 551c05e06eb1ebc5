package ledger

import (
	"github.com/labstack/echo/v4"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, admin *echo.Group, db *bun.DB, cfg *config.Config, authMiddleware *auth.Middleware) {
	h := &handler{
		db:            db,
		maxRetries:    cfg.DatabaseMaxRetries,
		ledgerService: NewService(db),
	}

	e.GET("/me/balance", h.balance, authMiddleware.Authenticate)
	e.GET("/me/transactions", h.transactions, authMiddleware.Authenticate)

	admin.POST("/wallets/:user_id/credit", h.credit)
}
