package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/catchup"
	"kptv-catchup/work/client"
	"kptv-catchup/work/config"
	"kptv-catchup/work/database"
	"kptv-catchup/work/handlers"
	"kptv-catchup/work/importer"
	"kptv-catchup/work/inspect"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/session"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {
	configPath := flag.String("config", "/settings/config.json", "path to the JSON configuration")
	writeExample := flag.Bool("example-config", false, "write an example configuration to -config and exit")
	flag.Parse()

	if *writeExample {
		if err := config.CreateExampleConfig(*configPath); err != nil {
			logger.Error("{main - main} failed to write example config: %v", err)
			os.Exit(1)
		}
		return
	}

	// load our config
	cfg := config.LoadConfig(*configPath)
	logger.SetLogLevel(cfg.LogLevel)
	logger.AddHook(func(level, message string) {
		addLogEntry(strings.ToLower(level), message)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := client.NewHeaderSettingClient(cfg)

	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	// persistence is optional: without it detections are only cached in memory
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Warn("{main - main} running without database: %v", err)
	} else {
		defer db.Close()
	}

	var (
		detections inspect.Store
		history    importer.History
	)
	if db != nil {
		detections = db
		history = db
	}

	store := catalog.New(cfg)
	inspector := inspect.New(cfg, httpClient, detections, workerPool)
	sessions := session.NewManager(cfg, store, inspector)
	imp := importer.New(cfg, httpClient, store, history)

	probe := func(channel *types.Channel) (string, types.StreamType) {
		return catchup.NewController(cfg, store).StaticStreamType(channel)
	}
	imp.OnReload(func(snap *catalog.Snapshot) {
		inspector.Reset()
		go inspector.WarmUp(ctx, snap.Channels, probe, store)
	})

	// initial import
	if _, err := imp.Import(ctx); err != nil {
		logger.Error("{main - main} initial import failed: %v", err)
	}
	go imp.StartRefresh(ctx)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router, store, sessions, corsMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	setupAdminRoutes(router, &adminServer{
		cfg:      cfg,
		store:    store,
		importer: imp,
		sessions: sessions,
		db:       db,
	})

	logger.Info("{main - main} Starting KPTV Catchup %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Playlist: %s", utils.LogURL(cfg, cfg.M3UPath))
	logger.Info("{main - main}   - Guide: %s", utils.LogURL(cfg, cfg.EpgPath))
	logger.Info("{main - main}   - Catchup Days: %d", cfg.CatchupDays)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Refresh Rate: %s", cfg.ImportRefreshInterval)
	logger.Info("{main - main}   - Database: %v", db != nil)
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// reloads requested through the admin API
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadChan:
				logger.Info("{main - main} reload requested")
				if _, err := imp.Import(ctx); err != nil {
					logger.Error("{main - main} reload failed: %v", err)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{main - main} server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("{main - main} shutting down")

	imp.StopRefresh()
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("{main - main} graceful shutdown failed: %v", err)
	}
}
