package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/learnlive/learnlive/internal/audio"
	"github.com/learnlive/learnlive/internal/handler"
	appI18n "github.com/learnlive/learnlive/internal/i18n"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the grading and upload HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addCommonFlags(f)
	addModelFlags(f)
	f.Int("rate-limit", 60, "API requests per client per minute (0 = unlimited)")
	f.Int64("max-audio-bytes", 20<<20, "Largest accepted audio upload")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	addAudioFlags(f)
	return cmd
}

func addAudioFlags(f *pflag.FlagSet) {
	f.String("audio-endpoint", "", "S3-compatible endpoint for audio uploads (optional)")
	f.String("audio-access-key", "", "Access key for the audio bucket")
	f.String("audio-secret-key", "", "Secret key for the audio bucket")
	f.String("audio-bucket", "learnlive-audio", "Bucket for audio uploads")
	f.String("audio-region", "", "Region of the audio bucket")
	f.Bool("audio-secure", true, "Use TLS for the audio endpoint")
	f.String("audio-public-url", "", "Public URL prefix for uploaded audio (defaults to the endpoint)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}
	if count, err := db.UserCount(); err == nil {
		slog.Info("database ready", "path", v.GetString("db"), "users", count)
	}

	var grader handler.Grader
	client, err := newModelClient(v)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}
	if client != nil {
		grader = client
	} else {
		slog.Warn("no model API key configured, grading endpoints will fail")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var uploads handler.AudioStore
	if v.GetString("audio-endpoint") != "" {
		store, err := newAudioStore(ctx, v)
		if err != nil {
			return err
		}
		uploads = store
	}

	h := handler.New(grader, uploads, db, handler.Config{
		RateLimit:     v.GetInt("rate-limit"),
		MaxAudioBytes: v.GetInt64("max-audio-bytes"),
	})

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", promhttp.Handler())
	h.Routes(r)

	addr := v.GetString("addr")
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("ai-model"),
		"ai_url", v.GetString("ai-url"),
		"lang", lang,
		"audio", uploads != nil,
		"cache", v.GetString("redis-url") != "",
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("could not stop server gracefully", "error", err)
		return server.Close()
	}
	return nil
}

func newAudioStore(ctx context.Context, v *viper.Viper) (*audio.MinioStore, error) {
	store, err := audio.NewMinio(audio.Config{
		Endpoint:  v.GetString("audio-endpoint"),
		AccessKey: v.GetString("audio-access-key"),
		SecretKey: v.GetString("audio-secret-key"),
		Bucket:    v.GetString("audio-bucket"),
		Region:    v.GetString("audio-region"),
		Secure:    v.GetBool("audio-secure"),
		PublicURL: v.GetString("audio-public-url"),
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("prepare audio bucket: %w", err)
	}
	return store, nil
}
