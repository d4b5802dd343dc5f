package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"voteagent/internal/bus"
	"voteagent/internal/config"
	"voteagent/internal/decision"
	"voteagent/internal/engine"
	"voteagent/internal/executor"
	"voteagent/internal/httpx"
	"voteagent/internal/integrations/chain"
	"voteagent/internal/integrations/configsync"
	"voteagent/internal/integrations/oracle"
	"voteagent/internal/integrations/slacknotify"
	"voteagent/internal/prefs"
	"voteagent/internal/storage/sqlite"
	"voteagent/internal/watch"

	"github.com/slack-go/slack"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. User=%s Relayer=%s Feed=%s Poll=%q ExternalHTTPTimeout=%s",
		cfg.UserAddress,
		cfg.RelayerURL,
		cfg.WatchFeedURL,
		cfg.PollSchedule,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()
	store := sqlite.NewStore(db)

	// Log the tail of the decision audit trail so the operator sees where
	// the previous session left off.
	if recent, err := store.GetDecisions(context.Background(), 5); err != nil {
		log.Printf("Decision audit unavailable: %v", err)
	} else {
		for _, d := range recent {
			log.Printf("Recent decision proposal=%s vote=%s confidence=%d strategy=%s approval=%t",
				d.ProposalID, d.Vote, d.Confidence, d.Strategy, d.RequiresApproval)
		}
	}

	b := bus.New()

	relayer := chain.NewRelayer(cfg.RelayerURL, cfg.RelayerToken)
	ora := oracle.NewClient(cfg.AnthropicAPIKey, cfg.OracleModel)

	var remote prefs.RemoteBackend
	if cfg.ConfigSyncConfigured() {
		remote = configsync.NewClient(cfg.ConfigSyncURL, cfg.ConfigSyncToken)
	}
	ps := prefs.NewStore(cfg.UserAddress, remote, store, b)

	maker := decision.NewMaker(ora, store, cfg.UserAddress)
	guard := executor.NewGuard(store, relayer, relayer, relayer, b)
	eng := engine.New(maker, guard, ps, store, b, cfg.UserAddress)

	if cfg.SlackConfigured() {
		api := slack.New(cfg.SlackBotToken)
		slacknotify.New(api, cfg.SlackChannelID).Start(b)
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackChannelID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	defer eng.Shutdown()

	watcher := watch.NewSource(cfg.WatchFeedURL, cfg.PollSchedule, relayer, store, store, cfg.UserAddress, b)

	log.Println("Starting DAO vote agent...")
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Proposal watcher error: %v", err)
	}
	log.Println("Shutting down")
}
