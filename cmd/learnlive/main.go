package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/learnlive/learnlive/internal/classroom"
	"github.com/learnlive/learnlive/internal/feed"
	"github.com/learnlive/learnlive/internal/grading"
	appI18n "github.com/learnlive/learnlive/internal/i18n"
	"github.com/learnlive/learnlive/internal/identity"
	"github.com/learnlive/learnlive/internal/store"
)

func main() {
	// A missing .env file is normal.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "learnlive",
		Short:        "Voice-answer classroom with AI-assisted grading",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		signUpCmd(), signInCmd(), signOutCmd(),
		courseCmd(), assignmentCmd(), questionCmd(),
		submitCmd(), submissionsCmd(), gradeCmd(), aiGradeCmd(), explainCmd(),
		watchCmd(), exportCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "learnlive.db", "SQLite database path")
	f.String("nats-url", "", "NATS URL for cross-process change notifications (optional)")
	f.String("lang", "en", "Message language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to this file with rotation instead of stderr")
}

func addClientFlags(f *pflag.FlagSet) {
	addCommonFlags(f)
	f.String("session", defaultSessionPath(), "File holding the signed-in session token")
	f.String("grader-url", "", "Base URL of a learnlive server for AI grading (e.g. http://localhost:8080)")
	addModelFlags(f)
}

func addModelFlags(f *pflag.FlagSet) {
	f.String("ai-url", grading.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("ai-key", "", "API key for the model (or set GOOGLE_API_KEY)")
	f.String("ai-model", grading.DefaultModel, "Model for grading and feedback")
	f.String("compare-model", grading.DefaultCompareModel, "Model for answer comparison")
	f.String("redis-url", "", "Redis URL for caching model grades (optional)")
	f.Duration("cache-ttl", 24*time.Hour, "How long cached grades are kept")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		slog.Warn("failed to load translations, using English", "error", err)
		_ = appI18n.Init("en")
	}
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LEARNLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai-key", "LEARNLIVE_AI_KEY", "GOOGLE_API_KEY")

	v.SetConfigName("learnlive")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/learnlive")
	v.AddConfigPath("/etc/learnlive")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".learnlive-session"
	}
	return filepath.Join(dir, "learnlive", "session")
}

// openStore opens the database, attaching a NATS change feed when configured.
func openStore(v *viper.Viper) (*store.Store, error) {
	var opts []store.Option
	var bus *feed.NATS
	if url := v.GetString("nats-url"); url != "" {
		conn, err := feed.ConnectNATS(url)
		if err != nil {
			return nil, err
		}
		bus = feed.NewNATS(conn, feed.DefaultSubject)
		opts = append(opts, store.WithChangeFeed(bus))
	}
	db, err := store.New(v.GetString("db"), opts...)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newModelClient builds the direct model client, or returns nil when no key is set.
func newModelClient(v *viper.Viper) (*grading.Client, error) {
	cfg := grading.Config{
		BaseURL:      v.GetString("ai-url"),
		APIKey:       v.GetString("ai-key"),
		Model:        v.GetString("ai-model"),
		CompareModel: v.GetString("compare-model"),
		CacheTTL:     v.GetDuration("cache-ttl"),
	}
	if url := v.GetString("redis-url"); url != "" {
		client, err := grading.ConnectRedis(url)
		if err != nil {
			return nil, err
		}
		cfg.Cache = grading.NewRedisCache(client)
	}
	client, err := grading.New(cfg)
	if errors.Is(err, grading.ErrMissingCredentials) {
		return nil, nil
	}
	return client, err
}

// session is an open store with a resumed identity and a synced classroom.
type session struct {
	db       *store.Store
	provider *identity.Provider
	room     *classroom.Classroom
	v        *viper.Viper
	coach    grading.Coach
}

func (s *session) Close() {
	s.room.Close()
	s.db.Close()
}

// openSession opens the store, resumes the saved sign-in and syncs the classroom mirror.
func openSession(cmd *cobra.Command) (*session, error) {
	v := viperForCmd(cmd)
	db, err := openStore(v)
	if err != nil {
		return nil, err
	}
	provider := identity.New(db)
	if token := readSessionToken(v.GetString("session")); token != "" {
		ok, err := provider.Resume(token)
		if err != nil {
			db.Close()
			return nil, err
		}
		if !ok {
			slog.Warn("saved session expired, continuing signed out")
		}
	}

	var grader classroom.Grader
	var coach grading.Coach
	if url := v.GetString("grader-url"); url != "" {
		remote := grading.NewRemote(url, nil)
		grader, coach = remote, remote
	} else {
		client, err := newModelClient(v)
		if err != nil {
			db.Close()
			return nil, err
		}
		if client != nil {
			grader, coach = client, client
		}
	}

	room := classroom.New(db, grader)
	room.Bind(provider)
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := room.WaitSynced(ctx); err != nil {
		room.Close()
		db.Close()
		return nil, fmt.Errorf("sync classroom: %w", err)
	}
	return &session{db: db, provider: provider, room: room, v: v, coach: coach}, nil
}

// requireIdentity returns the signed-in user's id.
func (s *session) requireIdentity() (string, error) {
	id := s.provider.Current()
	if id == nil {
		return "", errors.New("not signed in: run `learnlive signin` first")
	}
	return id.ID, nil
}

func readSessionToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeSessionToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}
