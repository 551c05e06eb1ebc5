package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE purchases (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				user_id INTEGER NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('story', 'chapter')),
				target_id INTEGER NOT NULL,
				story_id INTEGER NOT NULL,
				price_paid INTEGER NOT NULL CHECK (price_paid >= 0),
				purchase_date TIMESTAMPTZ NOT NULL,
				transaction_ref TEXT NOT NULL REFERENCES transactions(ref),
				status TEXT NOT NULL CHECK (status IN ('active', 'expired', 'refunded'))
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		// At most one active entry per (user, target). This is what makes a
		// second concurrent purchase of the same target fail instead of
		// charging twice.
		_, err = db.Exec(`
			CREATE UNIQUE INDEX ux_purchases_active_target
			ON purchases(user_id, kind, target_id)
			WHERE status = 'active'
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_purchases_story_id ON purchases(story_id, status)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS purchases")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
