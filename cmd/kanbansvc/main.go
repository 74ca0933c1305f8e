package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/avvvet/kanban-services/configs"
	mongodb "github.com/avvvet/kanban-services/internal/db"
	"github.com/avvvet/kanban-services/internal/kanbansvc/broker"
	svcconfig "github.com/avvvet/kanban-services/internal/kanbansvc/config"
	"github.com/avvvet/kanban-services/internal/kanbansvc/db"
	handlers "github.com/avvvet/kanban-services/internal/kanbansvc/handlers"
	"github.com/avvvet/kanban-services/internal/kanbansvc/service"
	"github.com/avvvet/kanban-services/internal/kanbansvc/store"
	"github.com/avvvet/kanban-services/internal/kanbansvc/ws"
	nats "github.com/avvvet/kanban-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "kanban"

func init() {
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg, err := svcconfig.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	instanceId := config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME+"_service_"+instanceId, cfg.LogDir, cfg.LogLevel)

	cardStore, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage, err)
	}
	defer closeStore()

	cardService := service.NewCardService(cardStore, instanceId)

	// local browsers
	hub := ws.NewWs()
	cardService.AddNotifier(hub)

	// other instances
	if cfg.NatsURL != "" {
		n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
		if err != nil {
			log.Fatalf("Error: unable to connect to NATS server %v", err)
		}
		defer n.Conn.Close()
		log.Infof("NATS connection established successfully %s", n.Url)

		b := broker.NewBroker(n.Conn, cfg.EventsSubject, instanceId, hub)
		sub, err := b.Subscribe()
		if err != nil {
			log.Fatalf("Error: unable to subscribe to %s %v", cfg.EventsSubject, err)
		}
		defer sub.Unsubscribe()

		cardService.AddNotifier(b)
	}

	// Init handlers and routes
	h := handlers.NewHandler(cardService, hub)
	h.InitAuth(cfg.JWTSecret)
	r := handlers.NewRouter(h, cfg.RateLimit)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
		return
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

// openStore returns the configured CardStore and a func releasing its connections.
func openStore(cfg svcconfig.Config) (store.CardStore, func(), error) {
	switch cfg.Storage {
	case svcconfig.StoragePostgres:
		pool, err := db.Connect(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("pg connection established successfully")

		s := store.NewPgCardStore(pool, cfg.Collection)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(ctx); err != nil {
			db.ClosePool(pool)
			return nil, nil, err
		}
		return s, func() { db.ClosePool(pool) }, nil

	case svcconfig.StorageMongo:
		database, err := mongodb.ConnectToDB(cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("mongo connection established successfully")

		closeFn := func() {
			if err := mongodb.Disconnect(database); err != nil {
				log.Warnf("mongo disconnect: %v", err)
			}
		}
		return store.NewMongoCardStore(database, cfg.Collection), closeFn, nil

	case svcconfig.StorageFile:
		s := store.NewFileStore(cfg.DataFile)
		if err := s.EnsureDir(); err != nil {
			return nil, nil, err
		}
		log.Infof("Data file: %s", s.Path())
		return s, func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}
