package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/service"
)

// AdminHandler serves account approval endpoints. Routes must be behind
// JWTAuth and RequireAdmin.
type AdminHandler struct {
	auth *service.AuthService
}

func NewAdminHandler(auth *service.AuthService) *AdminHandler {
	return &AdminHandler{auth: auth}
}

type approvalReq struct {
	Username string `json:"username" validate:"required"`
	Action   string `json:"action" validate:"required,oneof=approve reject"`
	Reason   string `json:"reason" validate:"max=500"`
}

// ListPending returns accounts waiting for a decision, oldest first.
func (h *AdminHandler) ListPending(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	users, err := h.auth.ListPending(ctx)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]userResp, 0, len(users))
	for i := range users {
		out = append(out, toUserResp(&users[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// Approve records an approve or reject decision.
func (h *AdminHandler) Approve(c echo.Context) error {
	var req approvalReq
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.auth.Approve(ctx, service.ApprovalInput{
		Username: req.Username,
		Action:   req.Action,
		Approver: middleware.Username(c),
		Reason:   req.Reason,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "user " + string(u.Status),
		"user":    toUserResp(u),
	})
}
