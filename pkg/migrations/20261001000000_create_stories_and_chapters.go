package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE stories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				slug TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT,
				author_id INTEGER,
				is_published BOOLEAN NOT NULL DEFAULT FALSE,
				is_paid BOOLEAN NOT NULL DEFAULT FALSE,
				price INTEGER NOT NULL DEFAULT 0 CHECK (price >= 0),
				has_paid_chapters BOOLEAN NOT NULL DEFAULT FALSE
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE UNIQUE INDEX ux_stories_slug ON stories(slug)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE chapters (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				story_id INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
				sort_order INTEGER NOT NULL,
				title TEXT NOT NULL,
				is_paid BOOLEAN NOT NULL DEFAULT FALSE,
				price INTEGER NOT NULL DEFAULT 0 CHECK (price >= 0),
				is_published BOOLEAN NOT NULL DEFAULT FALSE,
				is_featured BOOLEAN NOT NULL DEFAULT FALSE,
				comments_enabled BOOLEAN NOT NULL DEFAULT FALSE
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Serves both chapter listing and the "any paid chapter" existence
		// check, which can stop at the first (story_id, true) entry.
		_, err = db.Exec(`CREATE INDEX ix_chapters_story_id_is_paid ON chapters(story_id, is_paid)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS chapters")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS stories")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
