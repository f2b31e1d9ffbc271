// Command orderbot runs the chat ordering bot: the Telegram poller (when a
// token is configured), the event dispatcher and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/chat"
	"github.com/tbourn/go-order-bot/internal/chat/telegram"
	"github.com/tbourn/go-order-bot/internal/config"
	"github.com/tbourn/go-order-bot/internal/dedup"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/events"
	"github.com/tbourn/go-order-bot/internal/generation"
	httpapi "github.com/tbourn/go-order-bot/internal/http"
	"github.com/tbourn/go-order-bot/internal/ledger"
	"github.com/tbourn/go-order-bot/internal/observability"
	"github.com/tbourn/go-order-bot/internal/order"
	"github.com/tbourn/go-order-bot/internal/registry"
	"github.com/tbourn/go-order-bot/internal/repo"
	"github.com/tbourn/go-order-bot/internal/shutdown"
	"github.com/tbourn/go-order-bot/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type deduper interface {
	chat.Deduper
	dedup.Checker
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.Storage, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("database handle")
	}
	defer sqlDB.Close()

	var store registry.Store = registry.SQLStore{DB: db}
	if cfg.Storage.RegistryBackend == "file" {
		store = registry.FileStore{Path: cfg.Storage.RegistryPath}
	}
	reg, err := registry.New(ctx, store, cfg.Bot.OperatorID, cfg.Generation.RouteSuffix, cfg.Generation.Bootstrap)
	if err != nil {
		log.Fatal().Err(err).Msg("load endpoint registry")
	}

	catalog := domain.DefaultCatalog()
	gen := generation.New(reg, catalog, cfg.Generation.Timeout)

	var led ledger.Ledger = ledger.SQL{DB: db}
	if cfg.Storage.LedgerBackend == "file" {
		f, err := ledger.OpenFile(cfg.Storage.LedgerPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.LedgerPath).Msg("open ledger")
		}
		defer f.Close()
		led = f
	}

	seen := newDeduper(ctx, cfg.Dispatch, db)

	var pub events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers)
		defer w.Close()
		pub = events.NewKafka(w, cfg.Kafka.Topic)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing transactions to kafka")
	}

	var (
		messenger chat.Messenger = chat.LogMessenger{}
		tg        *telegram.Client
	)
	if cfg.Bot.Token != "" {
		tg, err = telegram.New(cfg.Bot.Token, cfg.Bot.PollTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram login")
		}
		messenger = tg
	} else {
		log.Warn().Msg("BOT_TOKEN not set; replies are logged and events arrive over HTTP only")
	}

	orch := order.New(order.Deps{
		Catalog:        catalog,
		Generator:      gen,
		Registry:       reg,
		Ledger:         led,
		Messenger:      messenger,
		Publisher:      pub,
		OperatorChatID: cfg.Bot.OperatorID,
		PaymentAddress: cfg.Bot.PaymentAddress,
	})

	disp := chat.NewDispatcher(orch, chat.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		RateRPS:   cfg.Dispatch.RateRPS,
		RateBurst: cfg.Dispatch.RateBurst,
		Dedup:     seen,
	})
	disp.Start()

	if tg != nil {
		if cfg.Bot.ChannelID != 0 {
			if err := tg.Welcome(ctx, cfg.Bot.ChannelID); err != nil {
				log.Warn().Err(err).Int64("channel_id", cfg.Bot.ChannelID).Msg("welcome broadcast failed")
			}
		}
		go tg.Run(ctx, disp)
	}

	deps := httpapi.Deps{
		Registry: reg,
		Events:   disp,
		Sessions: orch,
		Replays:  seen,
		Ready:    sqlDB.PingContext,
	}

	if cfg.Security.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN not set; admin API answers 401")
	}
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Workers ignore the signal context; Stop closes their queues and waits
	// for every accepted event to be handled.
	disp.Stop()
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("orderbot shutdown complete")
}

// newDeduper prefers Redis when configured. The SQL store gets a purge loop
// bound to ctx.
func newDeduper(ctx context.Context, cfg config.DispatchConfig, db *gorm.DB) deduper {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		return dedup.NewRedis(rdb, cfg.DedupTTL)
	}

	s := &dedup.SQL{DB: db, TTL: cfg.DedupTTL}
	every := cfg.DedupTTL
	if every > time.Hour {
		every = time.Hour
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := s.Purge(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("purge processed events")
					continue
				}
				log.Debug().Int64("removed", n).Msg("purged processed events")
			}
		}
	}()
	return s
}
