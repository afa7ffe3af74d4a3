package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paltrust/feedback/internal/ai"
	"github.com/paltrust/feedback/internal/api"
	dbstore "github.com/paltrust/feedback/internal/db"
	"github.com/paltrust/feedback/internal/middleware"
	"github.com/paltrust/feedback/internal/services"
	"github.com/paltrust/feedback/internal/utils"
)

func main() {
	if err := utils.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: .env: %v", err)
	}
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Printf("warning: close store: %v", cerr)
		}
	}()

	router, err := api.NewRouter(api.Options{
		Store:         store,
		Generator:     newGenerator(cfg),
		AdminPassword: cfg.AdminPassword,
		SessionTTL:    cfg.SessionTTL,
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}
	if middleware.UsingDevSecret() {
		log.Printf("warning: PALTRUST_JWT_SECRET not set, using the development secret")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// generation can take most of the upstream timeout
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("PAL-TRUST feedback server listening on %s (store=%s)", cfg.Addr, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func openStore(ctx context.Context, cfg Config) (api.Store, error) {
	switch cfg.DBDriver {
	case driverMemory:
		if cfg.SnapshotPath == "" {
			return api.NewMemoryStore(), nil
		}
		return api.OpenMemoryStore(cfg.SnapshotPath)
	case driverPostgres:
		return dbstore.OpenPostgres(cfg.DatabaseURL)
	default:
		if err := MigrateIfNeeded(ctx, cfg.SnapshotPath, cfg.SQLitePath, cfg.MigrationsDir); err != nil {
			return nil, err
		}
		return dbstore.OpenSQLite(cfg.SQLitePath, cfg.MigrationsDir)
	}
}

// newGenerator returns a nil interface when generation is not configured, so
// the router reports it as unavailable instead of calling a nil client.
func newGenerator(cfg Config) services.ReviewGenerator {
	gen, err := ai.NewReviewGenerator(ai.Config{
		APIKey:   cfg.OpenAIKey,
		BaseURL:  cfg.OpenAIBase,
		Model:    cfg.OpenAIModel,
		Attempts: cfg.OpenAIAttempts,
	})
	if err != nil {
		log.Printf("ai: %v", err)
		return nil
	}
	return gen
}

func newHandler(cfg Config, router *api.Router) http.Handler {
	mux := http.NewServeMux()
	router.Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "PAL-TRUST Feedback API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	var h http.Handler = mux
	h = middleware.LocaleMiddleware(h)
	h = middleware.NoStore(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.SecureHeaders(h)
	h = middleware.RequestLog(h)
	return middleware.Recover(h)
}
