package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/linklink-server/internal/config"
	"github.com/iliyamo/linklink-server/internal/database"
	"github.com/iliyamo/linklink-server/internal/handler"
	"github.com/iliyamo/linklink-server/internal/logger"
	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/notifier"
	"github.com/iliyamo/linklink-server/internal/queue"
	"github.com/iliyamo/linklink-server/internal/repository"
	"github.com/iliyamo/linklink-server/internal/repository/memory"
	"github.com/iliyamo/linklink-server/internal/router"
	"github.com/iliyamo/linklink-server/internal/service"
	"github.com/iliyamo/linklink-server/internal/storage"
	"github.com/iliyamo/linklink-server/internal/utils"
)

const serviceName = "linklink-server"

// repos is the storage backend selected by STORE_DRIVER.
type repos struct {
	users   repository.UserRepository
	tokens  repository.RefreshTokenRepository
	posters repository.PosterRepository
	archive repository.ArchivedPosterRepository
	images  repository.ImageRepository
	db      *sql.DB
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := openRepos(ctx, cfg, log)
	if err != nil {
		return err
	}
	if r.db != nil {
		defer r.db.Close()
	}

	files, err := storage.NewLocal(cfg.UploadDir, cfg.UploadURLPrefix)
	if err != nil {
		return err
	}

	clock := utils.SystemClock{}
	issuer := utils.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL(), clock)

	var mailer service.Mailer
	if cfg.RabbitMQURL != "" {
		mailer = queue.NewPublisher(cfg.RabbitMQURL, cfg.NotifyQueue, cfg.AdminEmail, clock, log)
		go runConsumer(ctx, cfg, log)
	} else {
		log.Info("RABBITMQ_URL not set, account notifications disabled")
	}

	rdb := config.NewRedisClient(ctx, cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting and feed cache disabled", slog.String("addr", cfg.Redis.Address()))
	} else {
		defer rdb.Close()
	}
	feedCache := middleware.NewFeedCache(cfg.Cache, rdb, log)

	hub := notifier.NewHub(originChecker(cfg.WSAllowedOrigin), log)
	defer hub.Close()

	auth := service.NewAuthService(r.users, r.tokens, issuer, mailer, clock, cfg.BcryptCost, log)
	images := service.NewImageService(r.images, files, service.ImageConfig{
		MaxFileSize:  cfg.MaxFileSize,
		AllowedTypes: cfg.AllowedTypes,
	}, clock, log)
	posters := service.NewPosterService(r.posters, r.archive, images, hub, feedCache, clock, log)

	if cfg.AdminUsername != "" {
		if _, err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}
	go sweepTokens(ctx, auth, cfg.TokenSweepInterval, log)

	var pinger handler.Pinger
	if r.db != nil {
		pinger = r.db
	}
	e := router.New(router.Deps{
		Auth:            handler.NewAuthHandler(auth, posters, images),
		Admin:           handler.NewAdminHandler(auth),
		Poster:          handler.NewPosterHandler(posters, images),
		Image:           handler.NewImageHandler(images),
		Notify:          handler.NewNotifyHandler(hub),
		Authenticator:   auth,
		FeedCache:       feedCache,
		Redis:           rdb,
		RateLimit:       cfg.RateLimit,
		DB:              pinger,
		UploadDir:       files.Root(),
		UploadURLPrefix: cfg.UploadURLPrefix,
		Logger:          log,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env), slog.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openRepos(ctx context.Context, cfg *config.Config, log *slog.Logger) (*repos, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		s := memory.New()
		return &repos{users: s.Users(), tokens: s.Tokens(), posters: s.Posters(), archive: s.Archive(), images: s.Images()}, nil
	}

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &repos{
		users:   repository.NewUserRepo(db),
		tokens:  repository.NewTokenRepo(db),
		posters: repository.NewPosterRepo(db),
		archive: repository.NewArchiveRepo(db),
		images:  repository.NewImageRepo(db),
		db:      db,
	}, nil
}

// runConsumer delivers queued account notifications by SMTP, or into a
// log file when no relay is configured.
func runConsumer(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	var sender queue.Sender = queue.NewFileSender(cfg.NotifyLogDir)
	smtpSettings := queue.SMTPSettings{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	if smtpSettings.Enabled() {
		sender = queue.NewSMTPSender(smtpSettings, log)
	}
	c := queue.NewConsumer(cfg.RabbitMQURL, cfg.NotifyQueue, sender, log)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("notification consumer stopped", slog.String("error", err.Error()))
	}
}

// sweepTokens periodically deletes expired refresh tokens.
func sweepTokens(ctx context.Context, auth *service.AuthService, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := auth.PurgeExpiredTokens(ctx); err != nil {
				log.Warn("refresh token sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}
