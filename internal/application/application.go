package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/eugenenazirov/donation-overlay/internal/api"
	"github.com/eugenenazirov/donation-overlay/internal/config"
	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/overlay"
	"github.com/eugenenazirov/donation-overlay/internal/progress"
	"github.com/eugenenazirov/donation-overlay/internal/socketio"
	"github.com/eugenenazirov/donation-overlay/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage storage.Storage
	runtime *overlay.Runtime
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New initializes the application with all dependencies from the provided
// configuration and loads the startup page query into the overlay.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	query, err := url.ParseQuery(cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("parse startup query: %w", err)
	}
	locale, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}

	store, err := openStorage(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	reconciler := progress.NewReconciler(store, logger.Named("progress"),
		progress.WithInitialAmountReset(cfg.HonorInitialAmountReset),
		progress.WithFreshFromConfig(cfg.FreshFromConfig),
	)
	runtime := overlay.New(cfg.Widget, cfg.Feed, reconciler,
		overlay.WithLogger(logger.Named("overlay")),
		overlay.WithFeedOptions(feedOptions(cfg.FeedTiming, logger)...),
	)

	if _, err := runtime.Load(context.Background(), query); err != nil {
		_ = runtime.Close()
		closeStorage(store, logger)
		return nil, fmt.Errorf("failed to load overlay: %w", err)
	}

	handler := api.NewHandler(runtime,
		api.WithLocale(locale),
		api.WithHandlerLogger(logger.Named("api")),
	)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	rootHandler, err := BuildRootHandler(apiRouter)
	if err != nil {
		_ = runtime.Close()
		closeStorage(store, logger)
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	return &App{
		storage: store,
		runtime: runtime,
		handler: handler,
		router:  apiRouter,
		logger:  logger,
		server:  NewServer(cfg, rootHandler),
	}, nil
}

// feedOptions configures the feed adapter and its socket.io transport.
func feedOptions(timing config.FeedTiming, logger *zap.Logger) []feed.Option {
	transportLogger := logger.Named("socketio")
	return []feed.Option{
		feed.WithEndpoint(timing.Endpoint),
		feed.WithTestInterval(timing.TestInterval),
		feed.WithDemoSchedule(timing.DemoStartDelay, timing.DemoInterval),
		feed.WithSourceFactory(func(endpoint string) feed.EventSource {
			return socketio.New(endpoint, socketio.WithLogger(transportLogger))
		}),
	}
}

func openStorage(path string) (storage.Storage, error) {
	if path == config.MemoryStorePath {
		return storage.NewMemoryStorage(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return storage.OpenBolt(path)
}

func closeStorage(store storage.Storage, logger *zap.Logger) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close storage", zap.Error(err))
	}
}

// BuildRootHandler constructs the root HTTP handler that serves static files and routes API requests.
func BuildRootHandler(apiHandler http.Handler) (http.Handler, error) {
	mux := http.NewServeMux()

	staticPath, err := resolveProjectPath(filepath.Join("web", "static"))
	if err != nil {
		return nil, err
	}
	staticDir := http.Dir(staticPath)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(staticDir)))
	mux.Handle("/api/", apiHandler)

	indexPath, err := resolveProjectPath(filepath.Join("web", "templates", "index.html"))
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	}))

	return mux, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Close stops the overlay runtime and releases the store. Call it after the
// HTTP server has shut down.
func (a *App) Close() error {
	if err := a.runtime.Close(); err != nil {
		return fmt.Errorf("close overlay: %w", err)
	}
	closeStorage(a.storage, a.logger)
	return nil
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
