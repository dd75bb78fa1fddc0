package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/MunishMummadi/web-scrapper/api"
	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/crawler"
	"github.com/MunishMummadi/web-scrapper/database"
	"github.com/MunishMummadi/web-scrapper/metrics"
	"github.com/MunishMummadi/web-scrapper/model"
	"github.com/MunishMummadi/web-scrapper/proxy"
	"github.com/MunishMummadi/web-scrapper/queue"
)

var (
	seedList  string
	sessionID string
	noRedis   bool
)

func init() {
	flag.StringVar(&seedList, "seeds", "", "Comma-separated seed URLs to start crawling")
	flag.StringVar(&sessionID, "session", "", "Session identifier (re-use one to resume a persisted frontier)")
	flag.BoolVar(&noRedis, "no-redis", false, "Skip Redis and mirror the frontier to SQLite instead")
}

func main() {
	flag.Parse()

	// Load configuration
	log.Println("Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create context that can be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics collector
	log.Println("Initializing metrics collector...")
	metricsCollector := metrics.NewMetricsCollector(prometheus.DefaultRegisterer)

	// Initialize SQLite content storage
	log.Println("Initializing SQLite storage...")
	storage, err := database.NewSQLiteStorage(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite storage: %v", err)
	}

	// Pick the frontier persistence mirror: Redis when reachable, SQLite
	// otherwise.
	var persistence queue.FrontierPersistence = storage
	var redisStore *queue.RedisFrontierStore
	if !noRedis {
		redisStore, err = queue.NewRedisFrontierStore(cfg.Redis)
		if err != nil {
			log.Printf("Redis unavailable (%v), mirroring frontier to SQLite", err)
		} else {
			persistence = redisStore
		}
	}

	// Initialize proxy manager
	log.Println("Initializing proxy manager...")
	proxyManager, err := proxy.NewManager(cfg.Proxies)
	if err != nil {
		log.Fatalf("Failed to initialize proxy manager: %v", err)
	}

	// Wire the session log bus: log everything on the admin topic, and
	// relay through Redis pub/sub when available.
	bus := crawler.Bus()
	adminCh, unsubscribe := bus.Subscribe("", 256)
	go func() {
		for entry := range adminCh {
			log.Printf("[%s] %s: %s", entry.SessionID, entry.Level, entry.Message)
		}
	}()
	if redisStore != nil {
		bus.SetRelay(func(entry model.LogEntry) {
			if err := redisStore.PublishLog(context.Background(), entry); err != nil {
				log.Printf("Failed to relay log entry to Redis: %v", err)
			}
		})
	}

	// Initialize the crawl session
	session := crawler.NewSession(sessionID)
	log.Printf("Starting session %s", session.ID)
	frontier := queue.NewMemoryFrontier(session.ID, persistence)

	c, err := crawler.NewCrawler(cfg, session, frontier, storage, metricsCollector, proxyManager)
	if err != nil {
		log.Fatalf("Failed to initialize crawler: %v", err)
	}

	// Enqueue seeds before the worker starts pulling
	if seedList != "" {
		for _, seed := range strings.Split(seedList, ",") {
			seed = strings.TrimSpace(seed)
			if seed == "" {
				continue
			}
			if !c.AddSeed(ctx, seed) {
				log.Printf("Seed %s not queued (duplicate or invalid)", seed)
			}
		}
	}

	log.Println("Starting crawler...")
	c.Start(ctx)

	// Set up HTTP server for the API and metrics
	apiServer := setupAPIServer(cfg, c, storage, session.ID)
	go func() {
		log.Printf("Starting API server on %s...", cfg.API.Address())
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	// Wait for shutdown signal or crawl completion
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutdown signal received, stopping services...")
	case <-c.Done():
		log.Println("Crawl session finished, shutting down...")
	}

	c.Stop()
	summary := c.Summary()
	log.Printf("Session %s: %d downloaded, %d failed, %d results",
		summary.SessionID,
		summary.SuccessfulDownloads,
		summary.ByStatus[model.StatusFailed],
		summary.TotalResults,
	)

	// Graceful shutdown of API server
	apiShutdownCtx, apiShutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer apiShutdownCancel()
	if err := apiServer.Shutdown(apiShutdownCtx); err != nil {
		log.Printf("API server shutdown failed: %v", err)
	}

	cancel()
	unsubscribe()
	frontier.Close()
	proxyManager.Close()

	var closeErr error
	if redisStore != nil {
		closeErr = multierr.Append(closeErr, redisStore.Close())
	}
	closeErr = multierr.Append(closeErr, storage.Close())
	if closeErr != nil {
		log.Printf("Shutdown errors: %v", closeErr)
	}
	log.Println("All services stopped, exiting")
}

func setupAPIServer(cfg *config.Config, c *crawler.Crawler, storage database.Storage, sessionID string) *http.Server {
	mux := http.NewServeMux()

	// API endpoint for submitting seed URLs
	mux.HandleFunc("/api/enqueue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		seed := r.FormValue("url")
		if seed == "" {
			http.Error(w, "URL parameter is required", http.StatusBadRequest)
			return
		}

		if !c.AddSeed(r.Context(), seed) {
			http.Error(w, "URL already queued or visited", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "URL %s has been queued for crawling\n", seed)
	})

	// API endpoint for health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// JSON read API over stored crawl results
	dataViewHandler := api.NewDataViewHandler(storage, sessionID, c)
	dataViewHandler.RegisterRoutes(mux)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}
}
