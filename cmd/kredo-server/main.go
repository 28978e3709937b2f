package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kredo-network/kredo/internal/api"
	"github.com/kredo-network/kredo/internal/ratelimit"
	"github.com/kredo-network/kredo/internal/storage"
	"github.com/kredo-network/kredo/internal/taxonomy"
	"github.com/kredo-network/kredo/internal/trust"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/kredo.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("could not create database directory %s: %v", dir, err)
		}
	}

	bindAddr := os.Getenv("BIND_ADDR")
	if bindAddr == "" {
		bindAddr = ":8080"
	}

	db, err := storage.NewDB(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	engine := trust.NewEngine(db, trustCacheTTL())
	registry := taxonomy.New(db)
	limiter := ratelimit.New(ratelimit.NewMemoryBackend(), rateLimitRules())
	srv := api.New(db, engine, registry, limiter, maxBodyBytes())

	handler := withCORS(srv, corsAllowOrigins())

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpSrv := &http.Server{Addr: bindAddr, Handler: handler}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	fmt.Printf("kredo-server listening on %s (db=%s)\n", bindAddr, dbPath)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// trustCacheTTL reads TRUST_CACHE_TTL_SECONDS, defaulting to 30.
func trustCacheTTL() time.Duration {
	seconds := 30
	if v := os.Getenv("TRUST_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			seconds = n
		}
	}
	return time.Duration(seconds) * time.Second
}

// maxBodyBytes reads MAX_BODY_BYTES, defaulting to api.MaxBodyBytesDefault.
func maxBodyBytes() int64 {
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return api.MaxBodyBytesDefault
}

// corsAllowOrigins reads CORS_ALLOW_ORIGINS as a comma-separated list. An
// empty value means same-origin only (no CORS headers emitted).
func corsAllowOrigins() []string {
	v := os.Getenv("CORS_ALLOW_ORIGINS")
	if v == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// withCORS wraps next with permissive-but-scoped CORS headers for the
// configured origin list. With no configured origins, it is a no-op
// pass-through.
func withCORS(next http.Handler, allowed []string) http.Handler {
	if len(allowed) == 0 {
		return next
	}
	allowAll := len(allowed) == 1 && allowed[0] == "*"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && originAllowed(origin, allowed) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// rateLimitRules reads RATE_LIMITS_JSON, a JSON object mapping action name
// to {"limit": N, "window_seconds": N}, overriding ratelimit.DefaultRules
// entry-by-entry. An absent or malformed value falls back to the defaults
// unmodified.
func rateLimitRules() map[string]ratelimit.Rule {
	rules := ratelimit.DefaultRules()
	raw := os.Getenv("RATE_LIMITS_JSON")
	if raw == "" {
		return rules
	}
	var overrides map[string]struct {
		Limit         int `json:"limit"`
		WindowSeconds int `json:"window_seconds"`
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		log.Printf("ignoring malformed RATE_LIMITS_JSON: %v", err)
		return rules
	}
	for action, o := range overrides {
		if o.Limit <= 0 || o.WindowSeconds <= 0 {
			continue
		}
		rules[action] = ratelimit.Rule{Limit: o.Limit, Window: time.Duration(o.WindowSeconds) * time.Second}
	}
	return rules
}
