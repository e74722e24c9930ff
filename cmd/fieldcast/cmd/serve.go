package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/database"
	internalhttp "github.com/fieldcast/fieldcast/internal/http"
	"github.com/fieldcast/fieldcast/internal/http/handlers"
	"github.com/fieldcast/fieldcast/internal/models"
	"github.com/fieldcast/fieldcast/internal/playout"
	"github.com/fieldcast/fieldcast/internal/repository"
	"github.com/fieldcast/fieldcast/internal/resolver"
	"github.com/fieldcast/fieldcast/internal/session"
	"github.com/fieldcast/fieldcast/internal/stream"
	"github.com/fieldcast/fieldcast/internal/transcoder"
	"github.com/fieldcast/fieldcast/internal/version"
	"github.com/fieldcast/fieldcast/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fieldcast head-end",
	Long: `Start the fieldcast server.

Serves every configured channel as MPEG-TS at /stream/{number}, an
XMLTV guide at /epg.xml, HDHomeRun discovery at /discover.json, and a
JSON API under /api/v1.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 5004, "Port to listen on")
	serveCmd.Flags().String("database", "fieldcast.db", "Database file path")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.path", serveCmd.Flags().Lookup("database"))
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag to key %q: %v", key, err))
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	channelRepo := repository.NewChannelRepository(db)
	itemRepo := repository.NewPlayoutItemRepository(db)
	statsRepo := repository.NewChannelStatsRepository(db)

	registry := buildRegistry(cfg, logger)
	refreshWorker := resolver.NewRefreshWorker(registry, cfg.Resolver.RefreshInterval, cfg.Resolver.ExpiryThreshold, logger)

	queue := playout.NewQueue(itemRepo, cfg.Playout, logger)
	pruner := playout.NewPruner(itemRepo, cfg.Playout, logger)

	prober := transcoder.NewProber(cfg.FFmpeg.FFprobePath, cfg.FFmpeg.ProbeTimeout)
	trans := transcoder.New(cfg.FFmpeg.FFmpegPath, cfg.Watchdog.KillGrace, logger)
	dog := watchdog.New(cfg.Watchdog, logger)
	screens := stream.NewScreenGenerator(cfg.FFmpeg.FFmpegPath, cfg.ErrorScreen, cfg.Delivery.TargetBitrate.Int64(), logger)

	channelManager := stream.NewChannelManager(channelRepo, stream.SupervisorDeps{
		Queue:      queue,
		Registry:   registry,
		Prober:     prober,
		Transcoder: trans,
		Watchdog:   dog,
		Screens:    screens,
		Stats:      statsRepo,
		FFmpeg:     cfg.FFmpeg,
		Resolver:   cfg.Resolver,
		Delivery:   cfg.Delivery,
		Logger:     logger,
	})

	sessions := session.NewManager(cfg.Sessions, session.Callbacks{
		ChannelEmpty: func(channelID models.ULID) {
			channelManager.NotifyChannelEmpty(channelID)
		},
	}, logger)

	server := internalhttp.NewServer(cfg.Server, logger)

	handlers.NewStreamHandler(channelManager, sessions, cfg.Delivery, logger).Register(server.Router())
	handlers.NewTunerHandler(cfg.Tuner, channelRepo).Register(server.Router())
	handlers.NewGuideHandler(channelRepo, queue, cfg.Playout, logger).Register(server.Router())

	handlers.NewHealthHandler(db).Register(server.API())
	handlers.NewChannelsHandler(channelRepo, statsRepo, channelManager, sessions).Register(server.API())
	handlers.NewSessionsHandler(sessions).Register(server.API())
	handlers.NewStatsHandler(sessions, channelManager, registry, dog).Register(server.API())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting fieldcast",
		"version", version.Short(),
		"address", cfg.Server.Address(),
		"database", cfg.Database.Path)

	if err := pruner.Start(); err != nil {
		return err
	}
	defer pruner.Stop()

	if err := channelManager.Start(ctx); err != nil {
		return err
	}
	defer channelManager.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return ignoreCancel(dog.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(sessions.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(refreshWorker.Run(ctx)) })

	err = g.Wait()
	logger.Info("fieldcast stopped")
	return err
}

// buildRegistry wires up every resolver the configuration enables. The
// local resolver always runs; media-server resolvers need credentials.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *resolver.Registry {
	resolvers := []resolver.Resolver{
		resolver.NewLocalResolver(cfg.Resolver.AllowedPaths),
		resolver.NewArchiveResolver(),
		resolver.NewYouTubeResolver(cfg.FFmpeg, cfg.Resolver),
	}
	if cfg.Resolver.Plex.ServerURL != "" {
		resolvers = append(resolvers, resolver.NewPlexResolver(cfg.Resolver.Plex, cfg.Resolver.MetadataTimeout))
	}
	if cfg.Resolver.Jellyfin.ServerURL != "" {
		resolvers = append(resolvers, resolver.NewJellyfinResolver(cfg.Resolver.Jellyfin))
	}
	if cfg.Resolver.Emby.ServerURL != "" {
		resolvers = append(resolvers, resolver.NewEmbyResolver(cfg.Resolver.Emby))
	}
	return resolver.NewRegistry(cfg.Resolver, logger, resolvers...)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
