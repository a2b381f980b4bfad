// Command bridge runs the Discord forum <-> GitHub Discussions sync: a Discord
// gateway session for forum events and an HTTP server for GitHub webhooks.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ku-fe/kufe-discussions-bot/internal/config"
	"github.com/ku-fe/kufe-discussions-bot/internal/discord"
	"github.com/ku-fe/kufe-discussions-bot/internal/github"
	httpapi "github.com/ku-fe/kufe-discussions-bot/internal/http"
	"github.com/ku-fe/kufe-discussions-bot/internal/observability"
	"github.com/ku-fe/kufe-discussions-bot/internal/registry"
	"github.com/ku-fe/kufe-discussions-bot/internal/repo"
	"github.com/ku-fe/kufe-discussions-bot/internal/services"
	"github.com/ku-fe/kufe-discussions-bot/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Logger = sysutil.NewRootLogger(os.Stderr, cfg.OTEL.ServiceName, cfg.LogPretty)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("bridge stopped")
	}
	log.Info().Msg("bridge stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg, sysutil.FirstNonEmpty(version, "dev"))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return err
		}
	}
	store := repo.NewMappingStore(db)

	gh, err := github.New(github.Config{
		Token:      cfg.GitHub.Token,
		Owner:      cfg.GitHub.Owner,
		Repo:       cfg.GitHub.Repo,
		CategoryID: cfg.GitHub.CategoryID,
		GraphQLURL: cfg.GitHub.GraphQLURL,
		Timeout:    cfg.GitHub.Timeout,
	})
	if err != nil {
		return err
	}
	if _, err := gh.Verify(ctx); err != nil {
		return err
	}

	reg := registry.New(registry.Config{
		ThreadLockTTL:         cfg.Sync.ThreadLockTTL,
		ItemLockTTL:           cfg.Sync.ItemLockTTL,
		SeenWindow:            cfg.Sync.SeenWindow,
		SentDownstreamWindow:  cfg.Sync.SentDownstreamWindow,
		ProcessedThreadWindow: cfg.Sync.ProcessedThreadWindow,
		CommentSeenWindow:     cfg.Sync.CommentSeenWindow,
		DiscussionFlagTTL:     cfg.Sync.DiscussionFlagTTL,
		MaxEntries:            cfg.Sync.SeenMaxEntries,
		PruneBatch:            cfg.Sync.SeenPruneBatch,
	})

	bot, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		ForumChannelID: cfg.Discord.ForumChannelID,
		SendRPS:        cfg.Discord.SendRPS,
	})
	if err != nil {
		return err
	}

	forward := &services.ForwardService{
		Chat:           bot,
		Board:          gh,
		Store:          store,
		Registry:       reg,
		ForumChannelID: cfg.Discord.ForumChannelID,
		GracePeriod:    cfg.Sync.GracePeriod,
	}
	reverse := &services.ReverseService{
		Chat:           bot,
		Store:          store,
		Registry:       reg,
		Locator:        gh,
		ForumChannelID: cfg.Discord.ForumChannelID,
		SimilarWindow:  cfg.Sync.SimilarThreadWindow,
	}

	n, err := forward.Warm(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("mappings", n).Msg("loaded existing mappings")

	bot.OnThreadCreated(forward.HandleThreadCreated)
	bot.OnMessageCreated(forward.HandleMessageCreated)
	// Gateway events keep running until shutdown, not past a cancelled signal
	// context mid-sync.
	if err := bot.Open(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			log.Warn().Err(err).Msg("discord close")
		}
	}()

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Sink:     reverse,
		Mappings: store,
		Pending:  reg,
		Seen:     reg,
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
