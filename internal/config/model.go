// internal/config/model.go
//
// Typed configuration model for Strand.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/global.yaml`                       – primary static file,
//   • `STRAND_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *after* unmarshalling, so the rest of the app
// never sees Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.

package config

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Database section
//

// Database holds the DSN and its secret.  The *template* (`DSN`) is kept in
// YAML so operators can tweak host, port, or flags without touching Vault.
// The *password* may be a plain string or a `vault:mount/path#key` URI which
// the loader resolves at boot.
type Database struct {
	DSN      string `koanf:"dsn"      validate:"required"`
	Password string `koanf:"password"`
}

//
// Session section
//

// Session configures the login cookie.  Key is the symmetric token key,
// base64 or `vault:` URI; CookieName and MaxAge are fixed per deployment.
type Session struct {
	CookieName string `koanf:"cookie_name" validate:"required"`
	MaxAge     int    `koanf:"max_age"     validate:"gt=0"`
	Key        string `koanf:"key"         validate:"required"`
}

//
// Views section
//

// Views points the dispatcher at the template root used for view-existence
// checks and rendering.
type Views struct {
	Root string `koanf:"root" validate:"required"`
}

//
// Dispatch section
//

// Dispatch carries the URL filters the front controller applies before
// action resolution.  Prefixes like `/img/` and extensions like `.ico` are
// passed through untouched.
type Dispatch struct {
	IgnorePrefixes []string `koanf:"ignore_prefixes"`
	IgnoreExts     []string `koanf:"ignore_exts"`
	// Whitelist paths skip the access gate entirely, for partner
	// callbacks that send no usable UA.
	Whitelist []string `koanf:"whitelist"`
}

//
// Throttle section
//

// Throttle caps application failures per client address per sliding
// hour.  Zero disables blocking.
type Throttle struct {
	Limit int `koanf:"limit"`
}

//
// Geo section (optional)
//

// Geo names a MaxMind database used to enrich access logs.  Empty path
// disables lookups.
type Geo struct {
	DBPath string `koanf:"db_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or STRAND_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // STRAND_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Session  Session  `koanf:"session"`
	Views    Views    `koanf:"views"`
	Dispatch Dispatch `koanf:"dispatch"`
	Throttle Throttle `koanf:"throttle"`
	Geo      Geo      `koanf:"geo"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}
