// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `STRAND_`, where `__` maps to “.”
     (e.g., `STRAND_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.  `Reload()` simply calls `Load()`
again and swaps the pointer.

Values of the form `vault:mount/path#key` are resolved through the Vault
client after unmarshalling; the resolver is injected so tests never need a
live Vault.

Instrumentation
---------------
  • DEBUG spans — root discovery, YAML read, env overlay.
  • ERROR spans — YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span  — final “config loaded” with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed (bootstrap console).

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/web` work from any sub-directory.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/strandweb/strand/internal/vault"
)

var current atomic.Pointer[Config]

// SecretResolver turns a `vault:mount/path#key` URI into its plain value.
type SecretResolver func(ctx context.Context, path, key string) (string, error)

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves STRAND_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("STRAND_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, resolves secrets, validates, and
// caches Config.  A nil resolver leaves `vault:` values untouched, which
// validation then rejects for required secret fields at connect time.
func Load(resolver SecretResolver) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: STRAND_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("STRAND_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(&cfg, resolver); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"force_https", cfg.HTTP.ForceHTTPS,
		"views_root", cfg.Views.Root,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── secret resolution ───────────────────────────*/

// resolveSecrets rewrites every `vault:` value in place.  Only the fields
// that may hold secrets are inspected; extending the list is a one-line
// change per field.
func resolveSecrets(cfg *Config, resolver SecretResolver) error {
	targets := []*string{&cfg.Database.Password, &cfg.Session.Key}
	for _, t := range targets {
		val, err := resolveSecret(*t, resolver)
		if err != nil {
			return err
		}
		*t = val
	}
	return nil
}

func resolveSecret(val string, resolver SecretResolver) (string, error) {
	const prefix = "vault:"
	if !strings.HasPrefix(val, prefix) || resolver == nil {
		return val, nil
	}
	ref := strings.TrimPrefix(val, prefix)
	path, key := ref, ""
	if i := strings.IndexByte(ref, '#'); i != -1 {
		path, key = ref[:i], ref[i+1:]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return resolver(ctx, path, key)
}

// VaultResolver adapts a *vault.Client into a SecretResolver.
func VaultResolver(cli *vault.Client) SecretResolver {
	return func(ctx context.Context, path, key string) (string, error) {
		return cli.GetKV(ctx, path, key, time.Minute)
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config { return current.Load() }

func Reload(resolver SecretResolver) error { _, err := Load(resolver); return err }
