package main

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/atelierhq/piece-market/internal/checkout"
	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/config"
	"github.com/atelierhq/piece-market/internal/database"
	"github.com/atelierhq/piece-market/internal/handler"
	"github.com/atelierhq/piece-market/internal/notifier"
	"github.com/atelierhq/piece-market/internal/queue"
	"github.com/atelierhq/piece-market/internal/repository"
	"github.com/atelierhq/piece-market/internal/reservation"
	"github.com/atelierhq/piece-market/internal/router"
)

func main() {
	_ = godotenv.Load() // optional .env for local development
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	store := repository.NewMySQLPieceStore(db)
	clk := clock.NewSystem()

	// Local subscribers always get events via the hub; with a broker
	// configured, events are also fanned out across instances.  Each
	// instance publishes under its own origin id and the consumer drops
	// the echoes, so SSE subscribers see every transition exactly once.
	hub := notifier.NewHub()
	var events notifier.Publisher = hub
	if cfg.AMQPURL != "" {
		origin := uuid.NewString()
		events = notifier.Fanout{hub, notifier.NewAMQPPublisher(cfg.AMQPURL, origin)}
		go func() {
			if err := queue.StartPieceStatusConsumer(cfg.AMQPURL, origin, func(ev queue.PieceStatusEvent) {
				_ = hub.Publish(context.Background(), ev)
			}); err != nil {
				log.Printf("piece-consumer: %v", err)
			}
		}()
	}

	manager := reservation.NewManager(store, clk, events, reservation.WithLeaseTTL(cfg.LeaseTTL))

	sweepCfg := config.LoadSweepConfig()
	if sweepCfg.Enabled {
		sweeper := reservation.NewSweeper(store, clk, events, sweepCfg.Interval, sweepCfg.Batch)
		go sweeper.Run(context.Background())
	}

	var bridge *checkout.Bridge
	if cfg.PaymentURL != "" {
		bridge = checkout.NewBridge(store, manager, checkout.NewHTTPProcessor(cfg.PaymentURL), clk)
	}

	rdb := config.NewRedisClient() // nil disables rate limit and cache

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewPieceHandler(store, clk), handler.NewEventsHandler(hub), rdb)
	router.RegisterReservations(e, handler.NewReservationHandler(manager, bridge), cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
