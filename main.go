package main

import (
	"context"
	"math"

	"chainfeed/actions"
	"chainfeed/cache"
	"chainfeed/config"
	"chainfeed/contentstore"
	"chainfeed/feed"
	"chainfeed/ledger"
	"chainfeed/server"
	"chainfeed/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func runBackgroundTasks(
	ledgerClient *ledger.Client,
	synchronizer *feed.Synchronizer,
) {
	// Event watcher: other clients' writes trigger a refresh
	go utils.Recoverer(math.MaxInt, 1, func() {
		err := ledgerClient.Watch(context.Background(), func(event string) {
			log.Infof("Ledger event %s, refreshing feed", event)
			if err := synchronizer.Refresh(context.Background()); err != nil {
				log.Errorf("Error refreshing feed: %v", err)
			}
		})
		if err != nil {
			log.Warningf("Ledger watcher stopped: %v", err)
		}
	})

	// Identity changes re-key viewer state and resynchronize
	ledgerClient.OnIdentityChanged(func(account common.Address, signed bool) {
		if signed {
			synchronizer.SetViewer(&account)
		} else {
			synchronizer.SetViewer(nil)
		}
		if err := synchronizer.Refresh(context.Background()); err != nil {
			log.Errorf("Error refreshing feed after identity change: %v", err)
		}
	})
}

func main() {
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	ledgerClient, err := ledger.NewClient(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.PrivateKey)
	if err != nil {
		panic(err)
	}
	defer ledgerClient.Close()

	storeClient := contentstore.NewClient(cfg.BridgeURL)
	sessions := contentstore.NewSessionManager(
		storeClient,
		cfg.StateDir,
		cfg.SpaceDID,
		cfg.LoginPollInterval,
		cfg.LoginTimeout,
	)
	if err := sessions.Init(); err != nil {
		log.Errorf("Error initializing content store session: %v", err)
	}
	resolver := contentstore.NewResolver(cfg.GatewayHost)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	contentCache := cache.NewContentCache(redisClient, cfg.ContentCacheExpiration)
	profilesCache := cache.NewProfilesCache(redisClient, cfg.ProfileCacheExpiration)

	synchronizer := feed.NewSynchronizer(ledgerClient, resolver, contentCache, profilesCache, nil)
	if account, ok := ledgerClient.Signer(); ok {
		synchronizer.SetViewer(&account)
	}

	actionManager := actions.NewManager(ledgerClient, storeClient, synchronizer, profilesCache)

	s := server.NewServer(synchronizer, actionManager, sessions, cfg.SpaceName, cfg.ServerAddr)

	// Run background tasks
	runBackgroundTasks(ledgerClient, synchronizer)

	s.Run()
}
