// internal/view/view.go
//
// View template collaborator.
//
// Context
// -------
// The dispatcher produces a logical view identifier; this package turns
// it into a response body.  Finder answers existence probes during view
// resolution and Renderer executes the template.  Templates are assumed
// immutable at runtime, so a confirmed path is cached forever.
package view

import (
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Finder answers whether a view identifier names an existing template.
type Finder interface {
	Exists(viewID string) bool
}

// Dir serves templates from a directory tree and satisfies Finder.
type Dir struct {
	root string

	mu    sync.RWMutex
	known map[string]bool
	tpls  map[string]*template.Template
}

// NewDir roots a template tree.
func NewDir(root string) *Dir {
	return &Dir{
		root:  root,
		known: make(map[string]bool),
		tpls:  make(map[string]*template.Template),
	}
}

// Exists probes for a template file.  Positive answers are cached for
// the life of the process.
func (d *Dir) Exists(viewID string) bool {
	d.mu.RLock()
	ok := d.known[viewID]
	d.mu.RUnlock()
	if ok {
		return true
	}

	info, err := os.Stat(d.realPath(viewID))
	if err != nil || info.IsDir() {
		return false
	}
	d.mu.Lock()
	d.known[viewID] = true
	d.mu.Unlock()
	return true
}

// realPath maps a view identifier onto the template root, refusing
// traversal outside it.
func (d *Dir) realPath(viewID string) string {
	clean := filepath.Clean("/" + strings.TrimPrefix(viewID, "/"))
	return filepath.Join(d.root, clean)
}

// Render executes the template named by viewID.  data is exposed to the
// template as-is; the request context usually rides along for further
// pulls.
func (d *Dir) Render(w http.ResponseWriter, viewID string, data any) error {
	tpl, err := d.load(viewID)
	if err != nil {
		return err
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	return tpl.Execute(w, data)
}

func (d *Dir) load(viewID string) (*template.Template, error) {
	d.mu.RLock()
	tpl := d.tpls[viewID]
	d.mu.RUnlock()
	if tpl != nil {
		return tpl, nil
	}

	tpl, err := template.ParseFiles(d.realPath(viewID))
	if err != nil {
		zap.S().Errorw("template parse failed", "view", viewID, "err", err)
		return nil, err
	}
	d.mu.Lock()
	d.tpls[viewID] = tpl
	d.mu.Unlock()
	return tpl, nil
}
