// internal/dispatch/dispatcher.go
//
// Convention-based action dispatcher.
//
// Context
// -------
// One Dispatcher serves the whole site.  Each request gets a fresh
// per-request context, an access check, and a resolution walk over its
// path segments [s0, s1, ...]:
//
//	0 segments  → Index.index
//	1 segment   → s0.index, falling back to Index.s0
//	2+ segments → s0.s1(s2..), then s0.index(s1..), then Index.s0(s1..)
//
// A verb mismatch at any step counts as "not found" and the walk
// continues.  When the invoked handler says continue, the dispatcher
// resolves a view identifier and hands it to the rendering collaborator.
// Context teardown runs unconditionally on every exit path.
package dispatch

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/strandweb/strand/internal/metrics"
	"github.com/strandweb/strand/internal/throttle"
	"github.com/strandweb/strand/internal/view"
	"github.com/strandweb/strand/internal/web"
	"github.com/strandweb/strand/internal/webinfo"
)

const (
	defaultSet    = "index"
	defaultMethod = "index"
)

// Renderer executes a resolved view identifier for a request.
type Renderer interface {
	Render(ctx *web.Context, viewID string) error
}

// Options wires the dispatcher's collaborators.  Only Session is
// mandatory; everything else degrades gracefully when absent.
type Options struct {
	Session web.SessionConfig

	// Views answers template existence probes; Renderer executes the
	// winner.  With either nil, the continue path answers 404.
	Views    view.Finder
	Renderer Renderer

	// IgnorePrefixes and IgnoreExts route matching requests to Static
	// untouched (e.g. /img/, .css).
	IgnorePrefixes []string
	IgnoreExts     []string
	Static         http.Handler

	// Whitelist bypasses the access check for exact request paths, for
	// callbacks from partners that send no usable UA.
	Whitelist []string

	// Limiter, when set, refuses clients over their failure budget.
	Limiter *throttle.Limiter

	// Geo enriches the access log.
	Geo *webinfo.Resolver

	// Before runs after the access check and before action resolution;
	// returning false ends the request.  Identity pinning lives here.
	Before func(*web.Context) bool

	// Final runs on every exit path, before context teardown.
	Final func(*web.Context)
}

// Dispatcher routes requests to registered action sets.  Register
// everything before serving; the set table is read-only afterwards.
type Dispatcher struct {
	opts Options
	sets map[string]*Set
}

// New builds an empty dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{opts: opts, sets: make(map[string]*Set)}
}

// Register adds an action set.  Later registrations under the same name
// replace earlier ones.
func (d *Dispatcher) Register(s *Set) {
	d.sets[normalizeSetName(s.Name)] = s
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := web.New(w, r, d.opts.Session)
	defer func() {
		if d.opts.Final != nil {
			d.opts.Final(ctx)
		}
		ctx.End()
	}()

	ctx.CloseCache()

	if !d.checkAccess(ctx) {
		metrics.RequestsTotal.WithLabelValues("blocked").Inc()
		ctx.Forbidden()
		return
	}

	uri := ctx.URI()
	for _, prefix := range d.opts.IgnorePrefixes {
		if strings.HasPrefix(uri, prefix) {
			d.serveStatic(ctx)
			return
		}
	}
	for _, ext := range d.opts.IgnoreExts {
		if strings.HasSuffix(uri, ext) {
			d.serveStatic(ctx)
			return
		}
	}

	paths := splitPath(uri)
	d.logAccess(ctx)

	if d.opts.Before != nil && !d.opts.Before(ctx) {
		metrics.RequestsTotal.WithLabelValues("stopped").Inc()
		return
	}

	cont, err := d.callAction(ctx, paths)
	if err != nil {
		d.fail(ctx, err)
		return
	}

	if fwd := ctx.ForwardedView(); fwd != "" {
		d.render(ctx, fwd)
		return
	}
	if cont {
		viewID, query := ResolveView(d.finder(), paths)
		ctx.MergeQuery(query)
		d.render(ctx, viewID)
		return
	}
	metrics.RequestsTotal.WithLabelValues("ok").Inc()
}

func (d *Dispatcher) serveStatic(ctx *web.Context) {
	metrics.RequestsTotal.WithLabelValues("static").Inc()
	if d.opts.Static != nil {
		d.opts.Static.ServeHTTP(ctx.Writer(), ctx.Request())
		return
	}
	ctx.NotFound()
}

func (d *Dispatcher) render(ctx *web.Context, viewID string) {
	if d.opts.Renderer == nil {
		ctx.NotFound()
		metrics.RequestsTotal.WithLabelValues("not_found").Inc()
		return
	}
	if f := d.finder(); f != nil && !f.Exists(viewID) {
		ctx.NotFound()
		metrics.RequestsTotal.WithLabelValues("not_found").Inc()
		return
	}
	if err := d.opts.Renderer.Render(ctx, viewID); err != nil {
		zap.S().Errorw("view render failed", "view", viewID, "uri", ctx.URI(), "err", err)
		ctx.Error(http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.RequestsTotal.WithLabelValues("ok").Inc()
}

// fail maps a handler error onto its HTTP surface.  Internal cause text
// goes to the log, never to the client.
func (d *Dispatcher) fail(ctx *web.Context, err error) {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		metrics.RequestsTotal.WithLabelValues("not_allowed").Inc()
		ctx.Error(http.StatusMethodNotAllowed)
	case errors.Is(err, ErrForbidden):
		metrics.RequestsTotal.WithLabelValues("forbidden").Inc()
		ctx.Forbidden()
	default:
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		metrics.ActionErrorsTotal.Inc()
		zap.S().Errorw("action failed", "uri", ctx.URI(), "err", err)
		if d.opts.Limiter != nil {
			d.opts.Limiter.Fail(ctx.IP())
		}
		ctx.Error(http.StatusInternalServerError)
	}
}

// checkAccess is the pre-routing gate: whitelisted paths pass outright,
// everything else is held to the failure budget.
func (d *Dispatcher) checkAccess(ctx *web.Context) bool {
	uri := ctx.URI()
	for _, allowed := range d.opts.Whitelist {
		if uri == allowed {
			return true
		}
	}
	if d.opts.Limiter != nil && d.opts.Limiter.Blocked(ctx.IP()) {
		return false
	}
	return true
}

func (d *Dispatcher) logAccess(ctx *web.Context) {
	loc := d.opts.Geo.Lookup(ctx.IP())
	zap.S().Debugw("request",
		"method", ctx.Request().Method,
		"uri", ctx.URI(),
		"ip", ctx.IP(),
		"country", loc.Country,
		"robot", ctx.IsRobot(),
	)
}

func (d *Dispatcher) finder() view.Finder {
	if d.opts.Views != nil {
		return d.opts.Views
	}
	return noViews{}
}

type noViews struct{}

func (noViews) Exists(string) bool { return false }

/*──────────────────────────── resolution walk ─────────────────────────────*/

func splitPath(uri string) []string {
	var out []string
	for _, p := range strings.Split(uri, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// callAction walks the fallback chain and reports whether to continue to
// view rendering.
func (d *Dispatcher) callAction(ctx *web.Context, paths []string) (bool, error) {
	switch len(paths) {
	case 0:
		_, cont, err := d.invoke(ctx, defaultSet, defaultMethod, nil)
		return cont, err
	case 1:
		found, cont, err := d.invoke(ctx, paths[0], defaultMethod, nil)
		if err != nil || found {
			return cont, err
		}
		_, cont, err = d.invoke(ctx, defaultSet, paths[0], nil)
		return cont, err
	default:
		found, cont, err := d.invoke(ctx, paths[0], paths[1], paths[2:])
		if err != nil || found {
			return cont, err
		}
		rest := paths[1:]
		found, cont, err = d.invoke(ctx, paths[0], defaultMethod, rest)
		if err != nil || found {
			return cont, err
		}
		_, cont, err = d.invoke(ctx, defaultSet, paths[0], rest)
		return cont, err
	}
}

// invoke resolves one (set, method) candidate.  found=false means the
// chain should continue: unknown set, unknown method, or a verb
// mismatch.  When found, cont carries the handler's verdict.
func (d *Dispatcher) invoke(ctx *web.Context, setName, methodName string, args []string) (found, cont bool, err error) {
	set := d.sets[normalizeSetName(setName)]
	if set == nil {
		return false, true, nil
	}
	m := set.method(methodName)
	if m == nil {
		return false, true, nil
	}
	if !m.Verb.allows(ctx.Request().Method) {
		// Verb mismatches fall through the chain instead of answering
		// 405 here.
		return false, true, nil
	}

	outcome, err := m.call(set.Name, ctx, args)
	if err != nil {
		return true, false, err
	}
	switch outcome.kind {
	case kindContinue:
		return true, true, nil
	case kindOutput:
		if err := ctx.Output(outcome.value); err != nil {
			return true, false, err
		}
		return true, false, nil
	default:
		return true, false, nil
	}
}
