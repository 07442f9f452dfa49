package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/service"
)

// AuthHandler serves registration, login and token endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	posters *service.PosterService
	images  *service.ImageService
}

func NewAuthHandler(auth *service.AuthService, posters *service.PosterService, images *service.ImageService) *AuthHandler {
	return &AuthHandler{auth: auth, posters: posters, images: images}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userResp struct {
	Username   string           `json:"username"`
	Email      string           `json:"email"`
	IsActive   bool             `json:"is_active"`
	IsAdmin    bool             `json:"is_admin"`
	Status     model.UserStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ApprovedAt *time.Time       `json:"approved_at,omitempty"`
	ApprovedBy string           `json:"approved_by,omitempty"`
}

func toUserResp(u *model.User) userResp {
	return userResp{
		Username:   u.Username,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsAdmin:    u.IsAdmin,
		Status:     u.Status,
		CreatedAt:  u.CreatedAt,
		ApprovedAt: u.ApprovedAt,
		ApprovedBy: u.ApprovedBy,
	}
}

// Register creates a pending account. No tokens are issued until an admin
// approves it.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	reg, err := h.auth.Register(ctx, service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	pair, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh consumes a refresh token and returns a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	pair, err := h.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout removes the presented refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.auth.Logout(ctx, req.RefreshToken, middleware.Username(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "successfully logged out"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, toUserResp(middleware.CurrentUser(c)))
}

// MyPosters lists every live poster of the caller regardless of privacy.
func (h *AuthHandler) MyPosters(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	ps, err := h.posters.ListOwn(ctx, middleware.Username(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPosterList(h.images, ps))
}
