// cmd/web/main.go
//
// Strand – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load env vars (system-wide file → .env fallback).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Optional Vault client for secret-bearing config values.
//
//  4. Load and validate typed config (YAML + STRAND_ env overlay).
//
//  5. Open the primary database and log the registered-user count.
//
//  6. Build the shared cache facade, repositories, and session codec.
//
//  7. Build the action dispatcher: registry, view finder, throttle,
//     geo enrichment, and the cookie-identity before-hook.
//
//  8. Mount /metrics and the dispatcher on a chi router, wrap it in the
//     security-headers and HTTPS-enforcement middleware, and serve.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/strandweb/strand/internal/actions"
	"github.com/strandweb/strand/internal/cache"
	"github.com/strandweb/strand/internal/config"
	"github.com/strandweb/strand/internal/database"
	"github.com/strandweb/strand/internal/dispatch"
	"github.com/strandweb/strand/internal/entity"
	"github.com/strandweb/strand/internal/logger"
	"github.com/strandweb/strand/internal/middleware"
	"github.com/strandweb/strand/internal/server"
	"github.com/strandweb/strand/internal/throttle"
	"github.com/strandweb/strand/internal/token"
	"github.com/strandweb/strand/internal/user"
	"github.com/strandweb/strand/internal/vault"
	"github.com/strandweb/strand/internal/view"
	"github.com/strandweb/strand/internal/web"
	"github.com/strandweb/strand/internal/webinfo"
)

const serverEnvPath = "/usr/local/etc/strand/global.env"

// loadEnv prefers the system-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	//
	// ── 1.  Secrets and config ──────────────────────────────────────────
	//
	var resolver config.SecretResolver
	if os.Getenv("VAULT_ADDR") != "" {
		vc, err := vault.New(context.Background(), logOut.Infof)
		if err != nil {
			logOut.Fatalw("vault client", "err", err)
		}
		resolver = config.VaultResolver(vc)
	}
	cfg, err := config.Load(resolver)
	if err != nil {
		logOut.Fatalw("load config", "err", err)
	}

	//
	// ── 2.  Database ────────────────────────────────────────────────────
	//
	dsn := strings.ReplaceAll(cfg.Database.DSN, "{password}", cfg.Database.Password)
	logOut.Infow("connecting to database")
	db, err := database.Open(dsn)
	if err != nil {
		logOut.Fatalw("connect database", "err", err)
	}
	defer db.Close()

	// Early sanity check: the user table must be reachable.
	var registered int
	if err := db.Get(&registered, "SELECT COUNT(*) FROM user"); err != nil {
		logOut.Warnw("user table not reachable", "err", err)
	} else {
		logOut.Infow("database online", "registered_users", registered)
	}

	//
	// ── 3.  Cache, repositories, session ────────────────────────────────
	//
	shared := cache.New()
	users := entity.NewRepo(db, shared, user.Meta, func() *user.User { return &user.User{} })

	codec, err := token.NewCodec(cfg.Session.Key)
	if err != nil {
		logOut.Fatalw("session codec", "err", err)
	}
	session := web.SessionConfig{
		CookieName: cfg.Session.CookieName,
		MaxAge:     cfg.Session.MaxAge,
		Codec:      codec,
		Users:      users,
	}

	//
	// ── 4.  Dispatcher ──────────────────────────────────────────────────
	//
	views := view.NewDir(cfg.Views.Root)
	geo := webinfo.Open(cfg.Geo.DBPath)
	defer geo.Close()
	limiter := throttle.New(shared, cfg.Throttle.Limit)

	d := dispatch.New(dispatch.Options{
		Session:        session,
		Views:          views,
		Renderer:       renderer{views},
		IgnorePrefixes: cfg.Dispatch.IgnorePrefixes,
		IgnoreExts:     cfg.Dispatch.IgnoreExts,
		Whitelist:      cfg.Dispatch.Whitelist,
		Static:         http.FileServer(http.Dir(filepath.Join(cfg.Paths.Root, "static"))),
		Limiter:        limiter,
		Geo:            geo,

		// Pin a verified identity before action resolution, matching the
		// cookie against the stored hash.  Blocked accounts stay
		// anonymous but the request proceeds.
		Before: func(ctx *web.Context) bool {
			ctx.ValidUser()
			return true
		},
	})
	actions.Register(d, actions.Deps{Users: users, Limiter: limiter})

	//
	// ── 5.  Router and server ───────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", d)

	handler := middleware.Security(r)
	handler = middleware.ForceHTTPS(cfg.HTTP.ForceHTTPS, handler)

	srv := server.New(cfg.HTTP.ListenAddr, handler)
	logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
	if err := srv.ListenAndServe(); err != nil {
		zap.S().Fatalw("http server", "err", err)
	}
}

// renderer adapts the template directory to the dispatcher's rendering
// contract, exposing the request context to templates as .Ctx.
type renderer struct {
	dir *view.Dir
}

func (r renderer) Render(ctx *web.Context, viewID string) error {
	return r.dir.Render(ctx.Writer(), viewID, map[string]any{
		"Ctx":  ctx,
		"User": ctx.User(),
	})
}
