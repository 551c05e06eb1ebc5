package ledger

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

type handler struct {
	db            *bun.DB
	maxRetries    int
	ledgerService *Service
}

func (h *handler) balance(c echo.Context) error {
	ctx := c.Request().Context()

	user, ok := auth.UserFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	balance, err := h.ledgerService.GetBalance(ctx, user.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, map[string]int{
		"user_id": user.ID,
		"balance": balance,
	}))
}

func (h *handler) transactions(c echo.Context) error {
	ctx := c.Request().Context()

	user, ok := auth.UserFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	params := ListTransactionsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	transactions, total, err := h.ledgerService.ListTransactionsWithTotal(ctx, ListTransactionsOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
		UserID: &user.ID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Transactions []*models.Transaction `json:"transactions"`
		Total        int                   `json:"total"`
	}{transactions, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) credit(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || userID <= 0 {
		return errcodes.NotFound("Wallet")
	}

	params := CreditPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	entry := &models.Transaction{
		UserID: userID,
		Kind:   models.TransactionKindCredit,
		Amount: params.Amount,
		Memo:   params.Memo,
	}
	err = database.RunInTx(ctx, h.db, h.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		l := NewService(tx)
		balance, err := l.Credit(ctx, userID, params.Amount)
		if err != nil {
			return err
		}
		entry.BalanceAfter = balance
		_, err = l.AppendTransaction(ctx, entry)
		return err
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, entry))
}
