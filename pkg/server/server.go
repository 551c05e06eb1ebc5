package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/storyvault/storyvault/pkg/access"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/binder"
	"github.com/storyvault/storyvault/pkg/chapters"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/joblogs"
	"github.com/storyvault/storyvault/pkg/jobs"
	"github.com/storyvault/storyvault/pkg/ledger"
	"github.com/storyvault/storyvault/pkg/purchases"
	"github.com/storyvault/storyvault/pkg/stories"
	"github.com/storyvault/storyvault/pkg/testutils"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB) (*http.Server, error) {
	e, err := newEcho(cfg, db)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func newEcho(cfg *config.Config, db *bun.DB) (*echo.Echo, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	// Everything under /admin requires an authenticated admin.
	admin := e.Group("/admin", authMiddleware.Authenticate, authMiddleware.RequireAdmin)

	stories.RegisterRoutes(e, db, cfg, authMiddleware)
	chapters.RegisterRoutes(e, admin, db, cfg, authMiddleware)
	access.RegisterRoutes(e, db, cfg, authMiddleware)
	purchases.RegisterRoutes(e, admin, db, cfg, authMiddleware)
	ledger.RegisterRoutes(e, admin, db, cfg, authMiddleware)
	jobs.RegisterRoutes(admin, db)
	joblogs.RegisterRoutes(admin, db)

	if cfg.Environment == "test" {
		testutils.RegisterRoutes(e, db, cfg, authMiddleware)
	}

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	return e, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
