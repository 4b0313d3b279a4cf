// Package api serves the flashdeck JSON API over echo.
package api

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/config"
	"github.com/smith3v/flashdeck/pkg/decks"
	"github.com/smith3v/flashdeck/pkg/identity"
	"github.com/smith3v/flashdeck/pkg/progress"
	"github.com/smith3v/flashdeck/pkg/study"
	"gorm.io/gorm"
)

// importPath takes uploads up to server.import_limit instead of
// server.body_limit.
const importPath = "/decks/import"

type Services struct {
	DB       *gorm.DB
	Identity *identity.Service
	Decks    *decks.Repository
	Recorder *study.Recorder
	Progress *progress.Aggregator
}

type requestValidator struct {
	v *validator.Validate
}

func (rv requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.Validationf("%s is invalid (%s)", strings.ToLower(fe.Field()), fe.Tag()).WithCause(err)
		}
		return apperr.Validation("invalid request").WithCause(err)
	}
	return nil
}

// New builds the echo instance with middleware and routes.
func New(cfg config.ServerConfig, logLevel string, svc Services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	SetLevel(e, logLevel)
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = requestValidator{v: validator.New()}

	e.Use(RequestID())
	e.Use(LogHandlerFunc)
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == importPath },
		Limit:   cfg.BodyLimit,
	}))
	e.Use(Timeout(cfg.RequestTimeout))

	e.GET("/healthz", HealthHandler(svc.DB))

	auth := e.Group("/auth")
	auth.POST("/register", RegisterHandler(svc.Identity))
	auth.POST("/login", LoginHandler(svc.Identity))
	auth.POST("/reset-password/request", RequestPasswordResetHandler(svc.Identity))
	auth.POST("/reset-password", ResetPasswordHandler(svc.Identity))

	requireAuth := Authenticate(svc.Identity)

	d := e.Group("/decks", requireAuth)
	d.GET("", ListDecksHandler(svc.Decks))
	d.POST("", CreateDeckHandler(svc.Decks))
	d.POST("/import", ImportDeckHandler(svc.Decks), middleware.BodyLimit(cfg.ImportLimit))
	d.GET("/:id", GetDeckHandler(svc.Decks, "id"))
	d.GET("/:id/export", ExportDeckHandler(svc.Decks, "id"))
	d.PUT("/:id", ReplaceDeckHandler(svc.Decks, "id"))
	d.DELETE("/:id", DeleteDeckHandler(svc.Decks, "id"))

	p := e.Group("/progress", requireAuth)
	p.GET("", GetProgressHandler(svc.Progress))
	p.POST("", SaveProgressHandler(svc.Recorder))

	return e
}
