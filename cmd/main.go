/**
 * @description
 * This is the main entry point for the bank-node. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, partner service clients, the signing key manager, the
 * message broker, the repository, the core application service, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Registry cache backend.
 * - internal/api, internal/app, internal/config, internal/keys, internal/store: Internal packages.
 * - pkg/peerclient, pkg/ratesclient, pkg/registryclient, pkg/rabbitmq: Partner service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crestbank/bank-node/internal/api"
	"github.com/crestbank/bank-node/internal/app"
	"github.com/crestbank/bank-node/internal/config"
	"github.com/crestbank/bank-node/internal/keys"
	"github.com/crestbank/bank-node/internal/metrics"
	"github.com/crestbank/bank-node/internal/store"
	"github.com/crestbank/bank-node/pkg/peerclient"
	"github.com/crestbank/bank-node/pkg/rabbitmq"
	"github.com/crestbank/bank-node/pkg/ratesclient"
	"github.com/crestbank/bank-node/pkg/registryclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting bank-node\" bank=%s prefix=%s port=%s", cfg.BankName, cfg.BankPrefix, cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Load the bank's RSA signing identity. The kid published with every
	// signature is the bank prefix, which is how peers resolve our key-set.
	keyManager, err := keys.LoadManager(cfg.BankPrefix, cfg.PrivateKeyPath)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"signing key load failed\" path=%s err=%v", cfg.PrivateKeyPath, err)
	}
	log.Printf("level=info component=bootstrap msg=\"signing key loaded\" kid=%s", keyManager.Kid())

	// Redis backs the registry lookup cache. A missing or unreachable Redis
	// degrades to uncached registry calls rather than preventing boot.
	var registryCache registryclient.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; registry cache disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; registry cache disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				registryCache = registryclient.NewRedisCache(redisClient, "banknode:registry", time.Duration(cfg.RegistryCacheTTLSeconds)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish transaction events.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Partner service clients.
	clientTimeout := time.Duration(cfg.HTTPClientTimeoutSec) * time.Second
	registryClient := registryclient.NewClient(cfg.RegistryVerifyURL, clientTimeout, registryCache)
	peerClient := peerclient.NewClient(clientTimeout)
	ratesClient := ratesclient.NewClient(cfg.RatesAPIBaseURL, clientTimeout)
	keyFetcher := keys.NewSetFetcher(clientTimeout)

	collector := metrics.NewCollector()

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	bankService := app.NewService(
		repository,
		registryClient,
		peerClient,
		ratesClient,
		keyManager,
		keyFetcher,
		producer,
		collector,
		app.Identity{
			BankName:        cfg.BankName,
			BankPrefix:      cfg.BankPrefix,
			DefaultCurrency: cfg.DefaultCurrency,
			SeedBalance:     cfg.SeedBalanceMinor,
		},
	)

	// Set up the HTTP router and define the API routes.
	handlers := api.NewHandlers(bankService)
	router := api.Routes(handlers, keyManager, collector, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
