// internal/web/context.go
//
// Per-request context.
//
// Context
// -------
// One Context wraps each inbound request: typed parameter access, cookie
// handling with parent-domain scoping, multipart uploads spooled to a
// per-request temp directory, response helpers, and identity resolution
// from the session cookie.  A Context belongs to the goroutine serving
// its request and is torn down by End() on every exit path; it must never
// outlive the request.
package web

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"go.uber.org/zap"

	"github.com/strandweb/strand/internal/api"
	"github.com/strandweb/strand/internal/token"
	"github.com/strandweb/strand/internal/user"
)

const maxUploadSize = 10 << 20

// UserSource loads identity records for cookie resolution.  The user
// repository satisfies it.
type UserSource interface {
	Get(ctx context.Context, id int64) (*user.User, error)
}

// SessionConfig fixes the session cookie contract for all requests.
type SessionConfig struct {
	CookieName string
	MaxAge     int
	Codec      *token.Codec
	Users      UserSource
}

// Context is the per-request facade.  Confined to one goroutine; not
// safe for concurrent use.
type Context struct {
	w       http.ResponseWriter
	r       *http.Request
	session SessionConfig

	cookies map[string]*http.Cookie
	begin   time.Time

	user          *user.User
	userResolved  bool
	userValidated bool

	uploadDir   string
	httpOnlyOff bool
	forwarded   string
	status      int
}

// New builds the Context for one request.  Multipart bodies are parsed
// up front so parameter access is uniform across form encodings.
func New(w http.ResponseWriter, r *http.Request, session SessionConfig) *Context {
	c := &Context{
		w:       w,
		r:       r,
		session: session,
		begin:   time.Now(),
		cookies: make(map[string]*http.Cookie),
	}
	for _, ck := range r.Cookies() {
		c.cookies[ck.Name] = ck
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(ct), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			zap.S().Warnw("multipart parse failed", "uri", r.URL.Path, "err", err)
		}
	} else {
		r.ParseForm()
	}
	return c
}

// End releases per-request resources.  Runs unconditionally at request
// exit; safe to call more than once.
func (c *Context) End() {
	if c.uploadDir != "" {
		if err := os.RemoveAll(c.uploadDir); err != nil {
			zap.S().Warnw("upload temp dir not removed", "dir", c.uploadDir, "err", err)
		}
		c.uploadDir = ""
	}
	if c.r.MultipartForm != nil {
		c.r.MultipartForm.RemoveAll()
	}
}

// Request exposes the underlying request for collaborators that need it,
// such as the view renderer.
func (c *Context) Request() *http.Request { return c.r }

// Writer exposes the underlying response writer.
func (c *Context) Writer() http.ResponseWriter { return c.w }

// URI returns the request path.
func (c *Context) URI() string { return c.r.URL.Path }

// BeginTime reports when the request arrived.
func (c *Context) BeginTime() time.Time { return c.begin }

// IsPost reports whether the request uses the POST method.
func (c *Context) IsPost() bool { return c.r.Method == http.MethodPost }

/*──────────────────────────── parameters ──────────────────────────────────*/

// Param returns a string parameter, or def when absent or empty.
func (c *Context) Param(name, def string) string {
	if v := c.r.FormValue(name); v != "" {
		return v
	}
	return def
}

// ParamInt returns an int parameter, or def when absent or malformed.
func (c *Context) ParamInt(name string, def int) int {
	return int(c.ParamInt64(name, int64(def)))
}

// ParamInt64 returns an int64 parameter, or def when absent or malformed.
func (c *Context) ParamInt64(name string, def int64) int64 {
	v, err := strconv.ParseInt(c.r.FormValue(name), 10, 64)
	if err != nil {
		return def
	}
	return v
}

// Params returns every value submitted under name.
func (c *Context) Params(name string) []string {
	return c.r.Form[name]
}

// ParamInt64s returns the distinct parseable int64 values under name,
// in submission order.  Malformed values are skipped.
func (c *Context) ParamInt64s(name string) []int64 {
	values := c.Params(name)
	if len(values) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(values))
	out := make([]int64, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ID returns the conventional "id" parameter.
func (c *Context) ID() int64 { return c.ParamInt64("id", 0) }

// MergeQuery folds extra query parameters into the request's parameter
// set.  View resolution uses it to expose unconsumed path segments as
// p1..pn.
func (c *Context) MergeQuery(query string) {
	if query == "" {
		return
	}
	vals, err := url.ParseQuery(query)
	if err != nil {
		return
	}
	if c.r.Form == nil {
		c.r.Form = make(url.Values)
	}
	for k, vs := range vals {
		c.r.Form[k] = append(c.r.Form[k], vs...)
	}
}

// Body reads the raw request body.
func (c *Context) Body() (string, error) {
	b, err := io.ReadAll(c.r.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

/*──────────────────────────── headers and cookies ─────────────────────────*/

// Header returns a request header.
func (c *Context) Header(name string) string { return c.r.Header.Get(name) }

// SetHeader sets a response header.
func (c *Context) SetHeader(name, value string) { c.w.Header().Set(name, value) }

// UserAgent returns the raw user-agent header.
func (c *Context) UserAgent() string { return c.r.Header.Get("User-Agent") }

// Cookie returns the request cookie by name, or nil.
func (c *Context) Cookie(name string) *http.Cookie { return c.cookies[name] }

// DisableHTTPOnly drops the HttpOnly flag from cookies set later in this
// request.  Script-readable cookies are the exception, not the rule.
func (c *Context) DisableHTTPOnly() { c.httpOnlyOff = true }

// SetCookie writes a response cookie at path "/".  With allSubDomains the
// cookie is scoped to the parent domain of the requesting host, so every
// sibling subdomain sees it.
func (c *Context) SetCookie(name, value string, maxAge int, allSubDomains bool) {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: !c.httpOnlyOff,
	}
	if allSubDomains {
		host := c.r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if domain := ParentDomain(host); domain != "" && strings.Contains(domain, ".") {
			ck.Domain = "." + domain
		}
	}
	http.SetCookie(c.w, ck)
}

// DeleteCookie expires the named cookie.
func (c *Context) DeleteCookie(name string, allSubDomains bool) {
	c.SetCookie(name, "", -1, allSubDomains)
}

// ParentDomain reduces a host name to its registrable parent domain,
// e.g. "www.example.com" -> "example.com".  IP literals and bare names
// yield "".
func ParentDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	names := strings.Split(host, ".")
	n := len(names)
	if n < 2 {
		return ""
	}
	if n == 2 {
		return host
	}
	// Second-level registries ("example.com.cn") keep three labels.
	switch strings.ToLower(names[n-2]) {
	case "com", "gov", "net", "edu", "org":
		return strings.Join(names[n-3:], ".")
	}
	return strings.Join(names[n-2:], ".")
}

/*──────────────────────────── uploads ─────────────────────────────────────*/

// File spools the named multipart upload to this request's temp
// directory and returns its path.  Returns "" when the field is absent
// or the request is not multipart.
func (c *Context) File(field string) (string, error) {
	if c.r.MultipartForm == nil {
		return "", nil
	}
	f, fh, err := c.r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	return c.spool(f, fh.Filename)
}

func (c *Context) spool(src multipart.File, name string) (string, error) {
	if c.uploadDir == "" {
		dir, err := os.MkdirTemp("", "strand-upload-")
		if err != nil {
			return "", err
		}
		c.uploadDir = dir
	}
	dst := filepath.Join(c.uploadDir, filepath.Base(name))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return dst, nil
}

/*──────────────────────────── output ──────────────────────────────────────*/

// Output writes a handler's return value.  A structured API result is
// rendered as its JSON contract; anything else prints as plain text.
func (c *Context) Output(v any) error {
	if r, ok := v.(*api.Result); ok {
		s, err := r.JSON()
		if err != nil {
			return err
		}
		return c.OutputJSON(s)
	}
	if c.w.Header().Get("Content-Type") == "" {
		c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	return c.print(v)
}

// OutputJSON writes a pre-rendered JSON document.
func (c *Context) OutputJSON(s string) error {
	if c.w.Header().Get("Content-Type") == "" {
		c.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	return c.print(s)
}

func (c *Context) print(v any) error {
	_, err := io.WriteString(c.w, toString(v))
	return err
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		if str, ok := v.(interface{ String() string }); ok {
			return str.String()
		}
		return ""
	}
}

// Redirect answers with a 302 to uri.
func (c *Context) Redirect(uri string) {
	http.Redirect(c.w, c.r, uri, http.StatusFound)
}

// Forward records the view identifier the renderer should execute.  The
// dispatcher reads it back after the handler chain completes.
func (c *Context) Forward(viewID string) { c.forwarded = viewID }

// ForwardedView returns the identifier recorded by Forward, or "".
func (c *Context) ForwardedView() string { return c.forwarded }

// Error answers with a bare HTTP status.  Internal cause text never
// reaches the client.
func (c *Context) Error(code int) {
	c.status = code
	http.Error(c.w, http.StatusText(code), code)
}

// NotFound answers 404.
func (c *Context) NotFound() { c.Error(http.StatusNotFound) }

// Forbidden answers 403.
func (c *Context) Forbidden() { c.Error(http.StatusForbidden) }

// Status returns the error status set by Error, or 0.
func (c *Context) Status() int { return c.status }

/*──────────────────────────── client identity ─────────────────────────────*/

// IP returns the client address, preferring the first public entry of
// X-Forwarded-For, then X-Real-IP, then the transport peer.
func (c *Context) IP() string {
	if fwd := c.r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, part := range strings.Split(fwd, ",") {
			ip := strings.TrimSpace(part)
			parsed := net.ParseIP(ip)
			if parsed == nil || parsed.To4() == nil {
				continue
			}
			if parsed.IsPrivate() || parsed.IsLoopback() {
				continue
			}
			return ip
		}
	}
	if real := c.r.Header.Get("X-Real-IP"); real != "" && net.ParseIP(real) != nil {
		return real
	}
	host, _, err := net.SplitHostPort(c.r.RemoteAddr)
	if err != nil {
		host = c.r.RemoteAddr
	}
	if net.ParseIP(host) == nil {
		return "127.0.0.1"
	}
	return host
}

// IsRobot reports whether the user-agent identifies an automated crawler.
func (c *Context) IsRobot() bool {
	ua := strings.TrimSpace(c.UserAgent())
	if ua == "" {
		return false
	}
	return uasurfer.Parse(ua).IsBot()
}

/*──────────────────────────── session identity ────────────────────────────*/

// SetUser pins the resolved identity for the rest of the request.  A
// pinned identity counts as verified; login and logout both go through
// here after their own credential checks.
func (c *Context) SetUser(u *user.User) {
	c.user = u
	c.userResolved = true
	c.userValidated = true
}

// User resolves the current identity, decoding the session cookie and
// loading the record on first use.  Unlike ValidUser, it does not verify
// the token's password hash.  Returns nil for anonymous requests.
func (c *Context) User() *user.User {
	if c.userResolved {
		return c.user
	}
	c.userResolved = true
	t, ok := c.decodeSessionCookie()
	if !ok {
		return nil
	}
	u, err := c.session.Users.Get(c.r.Context(), t.UserID)
	if err != nil {
		zap.S().Warnw("session user load failed", "id", t.UserID, "err", err)
		return nil
	}
	c.user = u
	return c.user
}

// ValidUser resolves and verifies the current identity: the token's
// password hash must match the stored one and the account must not be
// blocked.  A stale token surviving a password change fails here.  The
// verification runs even when User already resolved the identity; only
// a pinned identity (SetUser) skips it.
func (c *Context) ValidUser() *user.User {
	if c.userValidated {
		return c.user
	}
	t, ok := c.decodeSessionCookie()
	if !ok {
		return nil
	}
	u := c.user
	if !c.userResolved {
		var err error
		u, err = c.session.Users.Get(c.r.Context(), t.UserID)
		if err != nil {
			zap.S().Warnw("session user load failed", "id", t.UserID, "err", err)
			return nil
		}
	}
	if u == nil || !u.PasswordMatches(t.PasswordHash) || u.IsBlocked() {
		return nil
	}
	c.user = u
	c.userResolved = true
	c.userValidated = true
	return c.user
}

func (c *Context) decodeSessionCookie() (token.Token, bool) {
	ck := c.Cookie(c.session.CookieName)
	if ck == nil || ck.Value == "" || c.session.Codec == nil {
		return token.Token{}, false
	}
	t, ok := c.session.Codec.Decode(ck.Value)
	if !ok || t.UserID <= 0 {
		return token.Token{}, false
	}
	return t, true
}

// SaveUserCookie issues a fresh session token for u, scoped to the
// parent domain so sibling subdomains share the login.
func (c *Context) SaveUserCookie(u *user.User) error {
	t := token.Token{
		UserID:       u.Id,
		PasswordHash: u.Pwd,
		IP:           c.IP(),
		UAHash:       token.FingerprintUA(c.UserAgent()),
		IssuedAt:     time.Now(),
		Email:        u.Email,
		Name:         u.Name,
		Ident:        u.Ident,
	}
	value, err := c.session.Codec.Encode(t)
	if err != nil {
		return err
	}
	c.SetCookie(c.session.CookieName, value, c.session.MaxAge, true)
	c.SetUser(u)
	return nil
}

// DeleteUserCookie signs the client out.
func (c *Context) DeleteUserCookie() {
	c.DeleteCookie(c.session.CookieName, true)
	c.SetUser(nil)
}

/*──────────────────────────── response caching ────────────────────────────*/

// SetPublicCache marks the response shared-cacheable for the given
// number of minutes.  Pages under this policy must render identically
// for every visitor.  POST responses are never cached.
func (c *Context) SetPublicCache(minutes int) {
	if c.IsPost() {
		return
	}
	c.w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(minutes*60))
	c.w.Header().Set("Expires", time.Now().Add(time.Duration(minutes)*time.Minute).UTC().Format(http.TimeFormat))
}

// SetPrivateCache marks the response cacheable by the browser only.
func (c *Context) SetPrivateCache(minutes int) {
	if c.IsPost() {
		return
	}
	c.w.Header().Set("Cache-Control", "private")
	c.w.Header().Set("Expires", time.Now().Add(time.Duration(minutes)*time.Minute).UTC().Format(http.TimeFormat))
}

// CloseCache forbids any caching of the response.
func (c *Context) CloseCache() {
	c.w.Header().Set("Pragma", "must-revalidate, no-cache, private")
	c.w.Header().Set("Cache-Control", "no-cache")
	c.w.Header().Set("Expires", "Sun, 1 Jan 2000 01:00:00 GMT")
}
