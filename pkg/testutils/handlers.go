package testutils

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/ledger"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

type handler struct {
	db             *bun.DB
	maxRetries     int
	authMiddleware *auth.Middleware
}

// createTokenRequest is the request body for issuing a test token.
type createTokenRequest struct {
	UserID int    `json:"user_id" validate:"required,min=1"`
	Role   string `json:"role" default:"reader" validate:"oneof=admin reader"`
}

// createToken issues a bearer token for any user.
// POST /test/tokens.
func (h *handler) createToken(c echo.Context) error {
	var req createTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	token, err := h.authMiddleware.IssueToken(req.UserID, req.Role, time.Hour)
	if err != nil {
		return errors.Wrap(err, "failed to issue token")
	}

	return c.JSON(http.StatusCreated, map[string]string{"token": token})
}

// fundWalletRequest is the request body for seeding a wallet.
type fundWalletRequest struct {
	UserID int `json:"user_id" validate:"required,min=1"`
	Amount int `json:"amount" validate:"required,min=1"`
}

// fundWallet credits a wallet and logs the credit like an admin top-up.
// POST /test/wallets.
func (h *handler) fundWallet(c echo.Context) error {
	ctx := c.Request().Context()

	var req fundWalletRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	var balance int
	err := database.RunInTx(ctx, h.db, h.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		svc := ledger.NewService(tx)
		var err error
		balance, err = svc.Credit(ctx, req.UserID, req.Amount)
		if err != nil {
			return err
		}
		_, err = svc.AppendTransaction(ctx, &models.Transaction{
			UserID:       req.UserID,
			Kind:         models.TransactionKindCredit,
			Amount:       req.Amount,
			BalanceAfter: balance,
			Memo:         "test funding",
		})
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to fund wallet")
	}

	return c.JSON(http.StatusCreated, map[string]int{
		"user_id": req.UserID,
		"balance": balance,
	})
}

// deleteAllDataResponse is the response body for wiping the database.
type deleteAllDataResponse struct {
	Deleted int `json:"deleted"`
}

// deleteAllData deletes every row the API can create.
// DELETE /test/data.
func (h *handler) deleteAllData(c echo.Context) error {
	ctx := c.Request().Context()

	// Children before parents.
	tables := []interface{}{
		(*models.Purchase)(nil),
		(*models.Transaction)(nil),
		(*models.Wallet)(nil),
		(*models.Chapter)(nil),
		(*models.Story)(nil),
		(*models.JobLog)(nil),
		(*models.Job)(nil),
	}

	deleted := 0
	for _, model := range tables {
		result, err := h.db.NewDelete().
			Model(model).
			Where("1=1").
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to delete test data")
		}
		n, _ := result.RowsAffected()
		deleted += int(n)
	}

	return c.JSON(http.StatusOK, deleteAllDataResponse{
		Deleted: deleted,
	})
}
