package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kiliankoe/vibecheck/internal/api"
	"github.com/kiliankoe/vibecheck/internal/config"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/leaderboard"
	"github.com/kiliankoe/vibecheck/internal/seed"
	"github.com/kiliankoe/vibecheck/internal/store"
	"github.com/kiliankoe/vibecheck/internal/store/redisstore"
	"github.com/kiliankoe/vibecheck/internal/ws"
)

const version = "v1.0.0-dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
	}
	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vibecheck-server",
		Short:         "Realtime room store and leaderboards for the vibecheck compatibility quiz.",
		Args:          cobra.ExactArgs(0),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg.Verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	config.ServerFlags(cmd.Flags(), cfg)
	config.BindEnv(cmd.Flags())

	cmd.AddCommand(newTokenCmd(cfg))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("vibecheck {{.Version}}\n")
	return cmd
}

// newTokenCmd mints identity tokens signed with the server secret, for
// players and for local testing.
func newTokenCmd(cfg *config.Config) *cobra.Command {
	var (
		email string
		id    string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := cfg.JWTSecret
			if secret == "" {
				return errors.New("no jwt secret configured (VIBECHECK_JWT_SECRET)")
			}
			if id == "" {
				id = email
			}
			tok, err := identity.Sign(identity.Identity{ID: id, Email: email}, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email recorded on leaderboard entries")
	cmd.Flags().StringVar(&id, "id", "", "subject id (defaults to the email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func setupLogging(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store != config.StoreRedis {
		return store.NewMemory(), func() {}, nil
	}
	rdb, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	s := redisstore.New(rdb, redisstore.WithPrefix(cfg.RedisPrefix), redisstore.WithLogger(zerologlog.Logger))
	return s, func() { _ = rdb.Close() }, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := zerologlog.Logger

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info().Str("store", cfg.Store).Msg("room store ready")

	if cfg.QuestionsFile != "" {
		pools, err := seed.LoadFile(cfg.QuestionsFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn().Str("file", cfg.QuestionsFile).Msg("questions file not found, skipping seed")
		case err != nil:
			return err
		default:
			if err := seed.Apply(ctx, st, pools, cfg.OverwriteQuestions, logger); err != nil {
				return err
			}
		}
	}

	boards := leaderboard.NewStoreRepository(st)
	archiver := &leaderboard.Archiver{Source: boards, Log: logger}
	if cfg.ExportEnabled {
		archiver.ExportFile = cfg.ExportFile
	}
	if cfg.DatabaseURL != "" {
		db, err := leaderboard.OpenPostgres(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		archiver.Mirror = leaderboard.NewSQLRepository(db)
		logger.Info().Msg("postgres leaderboard mirror enabled")
	}
	jobs, err := archiver.Schedule(cfg.SyncSchedule, cfg.ExportSchedule)
	if err != nil {
		return fmt.Errorf("schedule archive jobs: %w", err)
	}
	defer jobs.Stop()

	if cfg.JWTSecret == "" {
		logger.Warn().Msg("no jwt secret configured, identity tokens are not verified")
	}

	// Gin setup with custom logger (skip /socket.io and subscription noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") || strings.HasPrefix(path, "/api/subscribe") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		zerologlog.Info().Str("method", c.Request.Method).Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})
	r.Use(cors.New(corsConfig(cfg.AllowOrigins)))

	api.New(st, boards, api.Options{
		JWTSecret: []byte(cfg.JWTSecret),
		PublicURL: cfg.PublicURL,
		Logger:    &logger,
	}).Mount(r)
	io := ws.New(st, &logger).Mount(r)
	defer io.Close()

	srv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if archiver.ExportFile != "" {
		if err := archiver.Export(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("final leaderboard export failed")
		}
	}
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AddAllowHeaders("Authorization")
	return c
}
