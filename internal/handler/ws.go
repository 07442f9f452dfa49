package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/logger"
	"github.com/iliyamo/linklink-server/internal/notifier"
)

// NotifyHandler upgrades clients onto the new-post notification hub.
type NotifyHandler struct {
	hub *notifier.Hub
}

func NewNotifyHandler(hub *notifier.Hub) *NotifyHandler {
	return &NotifyHandler{hub: hub}
}

// Posts serves /ws/posts/notify?username=. The upgrader has already
// replied when the handshake fails, so the error is only logged.
func (h *NotifyHandler) Posts(c echo.Context) error {
	if err := h.hub.ServeWS(c.Response(), c.Request()); err != nil {
		ctx := c.Request().Context()
		logger.FromContext(ctx).WarnContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
	}
	return nil
}
