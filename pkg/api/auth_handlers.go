package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/identity"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
	Token       string `json:"token"`
}

type userView struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u db.User) userView {
	return userView{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt.UTC()}
}

func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("malformed request body").WithCause(err)
	}
	return nil
}

func RegisterHandler(svc *identity.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		user, token, err := svc.Register(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message": "registration successful",
			"user":    newUserView(user),
			"token":   token,
		})
	}
}

func LoginHandler(svc *identity.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		user, token, err := svc.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"user":  newUserView(user),
			"token": token,
		})
	}
}

func RequestPasswordResetHandler(svc *identity.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resetRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
		if err := svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"message": "if the account exists, a reset token has been sent",
		})
	}
}

func ResetPasswordHandler(svc *identity.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resetPasswordRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := svc.ResetPassword(c.Request().Context(), req.Email, req.NewPassword, req.Token); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"message": "password has been reset"})
	}
}
