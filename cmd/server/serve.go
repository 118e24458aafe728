package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/auth"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/db"
	internalhttp "github.com/imanojprajapati/visitrack-v3-sub002/internal/http"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/identity"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/logging"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/media"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/repository"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/session"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	revocations, closeRevocations, err := newRevocationList(ctx)
	if err != nil {
		return err
	}
	defer closeRevocations()

	assets, err := newMediaClient(media.WithMetrics(media.NewMetrics(prometheus.DefaultRegisterer)))
	if err != nil {
		return err
	}

	cookies := session.NewCookieStore(session.CookieOptions{
		Path:     "/",
		Domain:   cfg.CookieDomain,
		SameSite: http.SameSiteStrictMode,
	})
	server := internalhttp.NewServer(
		identity.NewPasswordVerifier(repository.NewStore(pool)),
		codec,
		cookies,
		revocations,
		assets,
		logger,
		internalhttp.Options{
			DefaultFolder:  cfg.Media.DefaultFolder,
			MaxUploadBytes: cfg.Media.MaxUploadBytes,
		},
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info(ctx, "visitrack listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error(shutdownCtx, "shutdown error")
	}
	return nil
}

// newRevocationList connects to Redis when REDIS_ADDR is set. Without it,
// revocations are kept in process memory only.
func newRevocationList(ctx context.Context) (session.RevocationList, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn(ctx, "REDIS_ADDR not set, refresh token revocation kept in memory")
		return session.NewMemoryRevocationList(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.With(logging.Fields{"addr": cfg.RedisAddr}).Info(ctx, "refresh token revocation backed by redis")
	return session.NewRedisRevocationList(client), func() { _ = client.Close() }, nil
}
