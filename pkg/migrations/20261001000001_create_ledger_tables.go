package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE wallets (
				user_id INTEGER PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE transactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				ref TEXT NOT NULL,
				user_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				amount INTEGER NOT NULL,
				balance_after INTEGER NOT NULL,
				memo TEXT,
				story_id INTEGER,
				chapter_id INTEGER
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE UNIQUE INDEX ux_transactions_ref ON transactions(ref)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_transactions_user_id ON transactions(user_id, created_at)`)
		if err != nil {
			return errors.WithStack(err)
		}

		// The log is append-only.
		_, err = db.Exec(`
			CREATE TRIGGER tr_transactions_immutable BEFORE UPDATE ON transactions
			BEGIN
				SELECT RAISE(ABORT, 'transactions are immutable');
			END
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS transactions")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS wallets")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
