// internal/dispatch/dispatcher_test.go
//
// The resolution-order tests use three stub sets so each fallback step
// is observable: a full match, an index-method fallback on the same set,
// and a default-set fallback.  The verb-mismatch fallthrough is pinned
// deliberately — a POST-only method must fall through on GET rather than
// answer 405 at that step.
package dispatch

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/strandweb/strand/internal/token"
	"github.com/strandweb/strand/internal/web"
)

type fakeFinder map[string]bool

func (f fakeFinder) Exists(viewID string) bool { return f[viewID] }

type recordingRenderer struct {
	views []string
	ctxs  []*web.Context
}

func (r *recordingRenderer) Render(ctx *web.Context, viewID string) error {
	r.views = append(r.views, viewID)
	r.ctxs = append(r.ctxs, ctx)
	return nil
}

func testDispatcher(t *testing.T, finder fakeFinder) (*Dispatcher, *recordingRenderer) {
	t.Helper()
	codec, err := token.NewCodec("dispatch-test")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	rr := &recordingRenderer{}
	d := New(Options{
		Session:  web.SessionConfig{CookieName: "sid", MaxAge: 60, Codec: codec},
		Views:    finder,
		Renderer: rr,
	})
	return d, rr
}

func do(d *Dispatcher, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

/*──────────────────────────── fallback chain ──────────────────────────────*/

func TestResolutionOrder(t *testing.T) {
	var calls []string
	note := func(tag string) func(*web.Context, []string) {
		return func(_ *web.Context, args []string) {
			calls = append(calls, tag+"("+strings.Join(args, ",")+")")
		}
	}

	// Full match available.
	d, _ := testDispatcher(t, nil)
	d.Register(&Set{Name: "user", Methods: []Method{
		{Name: "show", Fn: note("user.show")},
		{Name: "index", Fn: note("user.index")},
	}})
	d.Register(&Set{Name: "index", Methods: []Method{
		{Name: "user", Fn: note("index.user")},
	}})
	do(d, "GET", "/user/show/7")
	if len(calls) != 1 || calls[0] != "user.show(7)" {
		t.Fatalf("full match calls = %v", calls)
	}

	// First fallback: the set exists but the method does not.
	calls = nil
	d2, _ := testDispatcher(t, nil)
	d2.Register(&Set{Name: "user", Methods: []Method{
		{Name: "index", Fn: note("user.index")},
	}})
	d2.Register(&Set{Name: "index", Methods: []Method{
		{Name: "user", Fn: note("index.user")},
	}})
	do(d2, "GET", "/user/show/7")
	if len(calls) != 1 || calls[0] != "user.index(show,7)" {
		t.Fatalf("first fallback calls = %v", calls)
	}

	// Second fallback: no such set at all.
	calls = nil
	d3, _ := testDispatcher(t, nil)
	d3.Register(&Set{Name: "index", Methods: []Method{
		{Name: "user", Fn: note("index.user")},
	}})
	do(d3, "GET", "/user/show/7")
	if len(calls) != 1 || calls[0] != "index.user(show,7)" {
		t.Fatalf("second fallback calls = %v", calls)
	}
}

func TestZeroAndOneSegmentResolution(t *testing.T) {
	var calls []string
	note := func(tag string) func() { return func() { calls = append(calls, tag) } }

	d, _ := testDispatcher(t, nil)
	d.Register(&Set{Name: "index", Methods: []Method{
		{Name: "index", Fn: note("index.index")},
		{Name: "about", Fn: note("index.about")},
	}})
	d.Register(&Set{Name: "blog", Methods: []Method{
		{Name: "index", Fn: note("blog.index")},
	}})

	do(d, "GET", "/")
	do(d, "GET", "/blog")
	do(d, "GET", "/about")
	want := []string{"index.index", "blog.index", "index.about"}
	for i, w := range want {
		if i >= len(calls) || calls[i] != w {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestVerbMismatchFallsThrough(t *testing.T) {
	var calls []string
	d, _ := testDispatcher(t, nil)
	d.Register(&Set{Name: "user", Methods: []Method{
		{Name: "save", Verb: POST, Fn: func() { calls = append(calls, "user.save") }},
		{Name: "index", Fn: func(_ *web.Context, args []string) {
			calls = append(calls, "user.index("+strings.Join(args, ",")+")")
		}},
	}})

	// GET against a POST-only method skips it and lands on the fallback.
	w := do(d, "GET", "/user/save")
	if w.Code == http.StatusMethodNotAllowed {
		t.Fatal("verb mismatch answered 405 instead of falling through")
	}
	if len(calls) != 1 || calls[0] != "user.index(save)" {
		t.Fatalf("calls = %v", calls)
	}

	// POST reaches the restricted method directly.
	calls = nil
	do(d, "POST", "/user/save")
	if len(calls) != 1 || calls[0] != "user.save" {
		t.Fatalf("calls = %v", calls)
	}
}

/*──────────────────────────── outcomes and errors ─────────────────────────*/

func TestOutcomeContract(t *testing.T) {
	finder := fakeFinder{"/page.html": true}
	d, rr := testDispatcher(t, finder)
	d.Register(&Set{Name: "page", Methods: []Method{
		{Name: "index", Fn: func() bool { return true }},
	}})
	d.Register(&Set{Name: "api", Methods: []Method{
		{Name: "index", Fn: func(*web.Context) Outcome { return Output("pong") }},
	}})
	d.Register(&Set{Name: "quiet", Methods: []Method{
		{Name: "index", Fn: func(*web.Context) {}},
	}})

	do(d, "GET", "/page")
	if len(rr.views) != 1 || rr.views[0] != "/page.html" {
		t.Fatalf("continue outcome views = %v", rr.views)
	}

	w := do(d, "GET", "/api")
	if w.Body.String() != "pong" {
		t.Fatalf("output outcome body = %q", w.Body.String())
	}

	before := len(rr.views)
	do(d, "GET", "/quiet")
	if len(rr.views) != before {
		t.Fatal("stop outcome still rendered a view")
	}
}

func TestErrorMapping(t *testing.T) {
	d, _ := testDispatcher(t, nil)
	d.Register(&Set{Name: "user", Methods: []Method{
		{Name: "only_post", Fn: func(*web.Context) error { return ErrMethodNotAllowed }},
		{Name: "secret", Fn: func(*web.Context) error { return ErrForbidden }},
		{Name: "broken", Fn: func(*web.Context) error { return errors.New("db down") }},
	}})

	if w := do(d, "GET", "/user/only_post"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("405 signal answered %d", w.Code)
	}
	if w := do(d, "GET", "/user/secret"); w.Code != http.StatusForbidden {
		t.Fatalf("403 signal answered %d", w.Code)
	}
	w := do(d, "GET", "/user/broken")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("storage error answered %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatal("internal cause text leaked to the client")
	}
}

func TestBadHandlerSignatureIsConfigError(t *testing.T) {
	d, _ := testDispatcher(t, nil)
	d.Register(&Set{Name: "user", Methods: []Method{
		{Name: "index", Fn: func(a, b, c int) {}},
	}})
	if w := do(d, "GET", "/user"); w.Code != http.StatusInternalServerError {
		t.Fatalf("invalid arity answered %d, want 500", w.Code)
	}
}

/*──────────────────────────── view resolution ─────────────────────────────*/

func TestViewShortening(t *testing.T) {
	finder := fakeFinder{"/blog/index.html": true}

	viewID, query := ResolveView(finder, []string{"blog", "123", "comments"})
	if viewID != "/blog/index.html" {
		t.Fatalf("viewID = %q", viewID)
	}
	if query != "p1=123&p2=comments" {
		t.Fatalf("query = %q", query)
	}
}

func TestViewResolutionPrefersIndexThenNamed(t *testing.T) {
	finder := fakeFinder{
		"/blog/post/index.html": true,
		"/blog/post.html":       true,
	}
	viewID, _ := ResolveView(finder, []string{"blog", "post"})
	if viewID != "/blog/post/index.html" {
		t.Fatalf("index candidate not preferred: %q", viewID)
	}

	delete(finder, "/blog/post/index.html")
	viewID, _ = ResolveView(finder, []string{"blog", "post"})
	if viewID != "/blog/post.html" {
		t.Fatalf("named candidate not used: %q", viewID)
	}
}

func TestViewResolutionRootFallback(t *testing.T) {
	viewID, query := ResolveView(fakeFinder{}, []string{"no", "such", "tree"})
	if viewID != "/index.html" {
		t.Fatalf("viewID = %q", viewID)
	}
	if query != "p1=no&p2=such&p3=tree" {
		t.Fatalf("query = %q", query)
	}
}

func TestRenderedViewSeesPositionalParams(t *testing.T) {
	finder := fakeFinder{"/blog/index.html": true}
	d, rr := testDispatcher(t, finder)
	d.Register(&Set{Name: "blog", Methods: []Method{
		{Name: "index", Fn: func(*web.Context, []string) bool { return true }},
	}})

	do(d, "GET", "/blog/123/comments")
	if len(rr.ctxs) != 1 {
		t.Fatalf("renders = %d", len(rr.ctxs))
	}
	ctx := rr.ctxs[0]
	if got := ctx.Param("p1", ""); got != "123" {
		t.Fatalf("p1 = %q", got)
	}
	if got := ctx.Param("p2", ""); got != "comments" {
		t.Fatalf("p2 = %q", got)
	}
}

/*──────────────────────────── routing gates ───────────────────────────────*/

func TestIgnoredPathsBypassActions(t *testing.T) {
	var served []string
	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = append(served, r.URL.Path)
	})

	d, _ := testDispatcher(t, nil)
	d.opts.IgnorePrefixes = []string{"/img/"}
	d.opts.IgnoreExts = []string{".css"}
	d.opts.Static = static
	d.Register(&Set{Name: "img", Methods: []Method{
		{Name: "index", Fn: func() { t.Fatal("action ran for an ignored path") }},
	}})

	do(d, "GET", "/img/logo.png")
	do(d, "GET", "/theme/site.css")
	if len(served) != 2 {
		t.Fatalf("static served = %v", served)
	}
}

func TestMissingViewAnswersNotFound(t *testing.T) {
	d, rr := testDispatcher(t, fakeFinder{})
	d.Register(&Set{Name: "blog", Methods: []Method{
		{Name: "index", Fn: func() bool { return true }},
	}})

	w := do(d, "GET", "/blog")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing template answered %d, want 404", w.Code)
	}
	if len(rr.views) != 0 {
		t.Fatalf("renderer invoked for a missing template: %v", rr.views)
	}
}

func TestUnroutedRequestFallsToViewSearch(t *testing.T) {
	finder := fakeFinder{"/docs.html": true}
	d, rr := testDispatcher(t, finder)

	// No sets registered at all: the chain misses everywhere, continue
	// defaults to true, and the view search answers.
	do(d, "GET", "/docs")
	if len(rr.views) != 1 || rr.views[0] != "/docs.html" {
		t.Fatalf("views = %v", rr.views)
	}
}
