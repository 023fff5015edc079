package screens

import (
	"fmt"
	"sync"

	"github.com/droidpilot/droidpilot/internal/vision"
)

// Registry is the screen catalog. Definitions are added once at startup;
// Freeze makes the catalog read-only for the lifetime of the process.
type Registry struct {
	mu     sync.Mutex
	defs   []*Definition
	byID   map[string]*Definition
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Definition)}
}

// Add registers a screen definition. Fails on duplicate ids, empty ids,
// tags that name no template, or registration after Freeze.
func (r *Registry) Add(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("screen registry frozen, cannot add %q", def.ID)
	}
	if def.ID == "" || def.ID == Unknown {
		return fmt.Errorf("invalid screen id %q", def.ID)
	}
	if _, dup := r.byID[def.ID]; dup {
		return fmt.Errorf("duplicate screen id %q", def.ID)
	}
	if def.Tag != "" && !hasTemplate(def, def.Tag) {
		return fmt.Errorf("screen %q: tag %q names no template", def.ID, def.Tag)
	}

	r.defs = append(r.defs, def)
	r.byID[def.ID] = def
	return nil
}

// Freeze ends registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Defs returns the registered screens in registration order.
func (r *Registry) Defs() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defs
}

// Lookup returns a screen by id.
func (r *Registry) Lookup(id string) (*Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	return d, ok
}

// Templates returns every template referenced by the catalog, for warmup.
func (r *Registry) Templates() []*vision.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tpls []*vision.Template
	for _, def := range r.defs {
		for _, c := range def.Checks {
			if tc, ok := c.(TemplateCheck); ok {
				tpls = append(tpls, tc.Tpl)
			}
		}
	}
	return tpls
}

func hasTemplate(def *Definition, name string) bool {
	for _, c := range def.Checks {
		if tc, ok := c.(TemplateCheck); ok && tc.Tpl.Name == name {
			return true
		}
	}
	return false
}
