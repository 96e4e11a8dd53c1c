package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Hubz123/YTwatch/announce"
	"github.com/Hubz123/YTwatch/config"
	"github.com/Hubz123/YTwatch/delivery"
	"github.com/Hubz123/YTwatch/discord"
	"github.com/Hubz123/YTwatch/scheduler"
	"github.com/Hubz123/YTwatch/scrape"
	"github.com/Hubz123/YTwatch/server"
	"github.com/Hubz123/YTwatch/state"
	"github.com/Hubz123/YTwatch/target"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "ytwatch",
		Short: "Watches YouTube channels and announces new live broadcasts and uploads to Discord",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cfgFile)
		},
	}
	root.Flags().StringVar(&cfgFile, "config", "", "optional config file (env vars with YTWATCH_ prefix take effect regardless)")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("ytwatch failed to start")
	}
}

func run(cfgFile string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	bootTime := time.Now().UTC()
	log.Info().
		Bool("enabled", cfg.Enabled).
		Str("announce_channel_id", cfg.AnnounceChannelID).
		Int("poll_seconds", cfg.PollSeconds).
		Int("max_age_minutes", cfg.MaxAgeMinutes).
		Str("state_path", cfg.StatePath).
		Msg("starting ytwatch")

	store := state.Open(cfg.StatePath, cfg.StateFallbackPaths...)
	watchlist := state.OpenWatchlist(cfg.WatchlistPath)

	session, err := discord.Connect(cfg.Token)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.FetchChannel(cfg.AnnounceChannelID); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := scrape.NewClient(cfg.CheckTimeout())
	resolver := scrape.NewResolver(client, store)
	detector, err := scrape.NewDetector(client, resolver)
	if err != nil {
		return err
	}

	guard := announce.NewGuard()
	gate := announce.NewGatekeeper(store, guard, session, announce.Options{
		ChannelID:        cfg.AnnounceChannelID,
		SelfID:           session.SelfID(),
		ScanLimit:        cfg.HistoryScanLimit,
		MaxAge:           cfg.MaxAge(),
		OnlyNewAfterBoot: cfg.OnlyNewAfterBoot,
		BootTime:         bootTime,
		BootGrace:        cfg.BootGrace(),
	})
	gate.Sweep(ctx)

	queue := delivery.NewQueue(session, delivery.Options{
		Throttle: cfg.SendThrottle(),
		Cooldown: cfg.Cooldown(),
		Capacity: cfg.QueueCapacity,
	})
	go queue.Run(ctx)

	go server.Serve(ctx, cfg.HealthAddr)

	sched := scheduler.New(scheduler.Options{
		Interval:          cfg.PollInterval(),
		CheckTimeout:      cfg.CheckTimeout(),
		PassDeadline:      cfg.PassDeadline(),
		Concurrency:       int64(cfg.Concurrency),
		AnnounceChannelID: cfg.AnnounceChannelID,
		Mention:           discord.Mention(cfg.NotifyRoleID, cfg.NotifyUserID),
		MentionUsers:      cfg.NotifyUserID != "",
		MentionRoles:      cfg.NotifyRoleID != "",
		DefaultWhitelist:  cfg.TitleWhitelist,
		DefaultTemplate:   cfg.MessageTemplate,
	}, watchlist, store, detector, client, gate, queue)

	// resolution-cache aliases let the merge fold a query-only target
	// into its resolved channel identity
	aliases := func(t target.Target) []string {
		return store.ResolvedAliases(target.AliasKeys(t))
	}
	if seed := os.Getenv("YTWATCH_SEED_TARGETS"); seed != "" {
		added, items := watchlist.IngestFreeText(seed, aliases)
		log.Info().Int("added", added).Int("tokens", len(items)).Msg("seed targets ingested")
	}

	if cfg.Enabled {
		sched.Run(ctx)
	} else {
		log.Warn().Msg("watcher disabled by configuration; serving health only")
		<-ctx.Done()
	}

	log.Info().Msg("shutdown complete")
	return nil
}
