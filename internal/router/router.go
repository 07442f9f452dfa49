// Package router registers the HTTP routes of the API.
package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/linklink-server/internal/config"
	"github.com/iliyamo/linklink-server/internal/handler"
	"github.com/iliyamo/linklink-server/internal/middleware"
)

// Deps bundles what the routes need.
type Deps struct {
	Auth   *handler.AuthHandler
	Admin  *handler.AdminHandler
	Poster *handler.PosterHandler
	Image  *handler.ImageHandler
	Notify *handler.NotifyHandler

	Authenticator middleware.Authenticator
	FeedCache     *middleware.FeedCache
	Redis         *redis.Client
	RateLimit     config.RateLimitConfig
	DB            handler.Pinger

	UploadDir       string
	UploadURLPrefix string
	Logger          *slog.Logger
}

// New builds an Echo instance with global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler()

	e.Use(middleware.Recover(d.Logger))
	e.Use(middleware.RequestID(d.Logger))
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(middleware.PrometheusMetrics())

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterPosters(e, d)
	RegisterImages(e, d)
	return e
}

// RegisterRoutes registers health, metrics, the notification socket and
// static uploads.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws/posts/notify", d.Notify.Posts)
	if d.UploadDir != "" {
		e.Static(d.UploadURLPrefix, d.UploadDir)
	}
}

// RegisterAuth registers the credential endpoints. Register, login and
// refresh are rate limited per client.
func RegisterAuth(e *echo.Echo, d Deps) {
	jwt := middleware.JWTAuth(d.Authenticator)
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger)

	g := e.Group("/v1/auth")
	g.POST("/register", d.Auth.Register, limit)
	g.POST("/login", d.Auth.Login, limit)
	g.POST("/refresh", d.Auth.Refresh, limit)
	g.POST("/logout", d.Auth.Logout, jwt)

	me := e.Group("/v1/me", jwt)
	me.GET("", d.Auth.Me)
	me.GET("/posters", d.Auth.MyPosters)

	admin := e.Group("/v1/admin", jwt, middleware.RequireAdmin())
	admin.GET("/users/pending", d.Admin.ListPending)
	admin.POST("/users/approve", d.Admin.Approve)
}

// RegisterPosters registers the poster lifecycle. The feed and detail
// views accept anonymous callers; anonymous feed pages are cached.
func RegisterPosters(e *echo.Echo, d Deps) {
	jwt := middleware.JWTAuth(d.Authenticator)
	optional := middleware.OptionalAuth(d.Authenticator)

	g := e.Group("/v1/posters")
	g.GET("", d.Poster.List, optional, d.FeedCache.Middleware())
	g.POST("", d.Poster.Create, jwt)

	g.GET("/deleted", d.Poster.ListTrash, jwt)
	g.DELETE("/deleted/hard", d.Poster.EmptyTrash, jwt)
	g.GET("/archived", d.Poster.ListArchived, jwt)

	g.GET("/:id", d.Poster.Get, optional)
	g.PATCH("/:id", d.Poster.Edit, jwt)
	g.DELETE("/:id", d.Poster.Delete, jwt)
	g.PATCH("/:id/restore", d.Poster.Restore, jwt)
	g.DELETE("/:id/hard", d.Poster.HardDelete, jwt)
}

// RegisterImages registers standalone image management.
func RegisterImages(e *echo.Echo, d Deps) {
	g := e.Group("/v1/images", middleware.JWTAuth(d.Authenticator))
	g.POST("", d.Image.Upload)
	g.GET("", d.Image.List)
	g.GET("/:filename", d.Image.Get)
	g.DELETE("/:filename", d.Image.Delete)
}
