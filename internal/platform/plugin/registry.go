// Package plugin collects the HTTP modules mounted under /api/v1.
package plugin

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// Module is a domain package that contributes routes.
type Module interface {
	Name() string
	RegisterRoutes(api *echo.Group)
}

// Registry holds modules in registration order.
type Registry struct {
	modules []Module
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register rejects a second module with the same name.
func (r *Registry) Register(m Module) error {
	if _, dup := r.names[m.Name()]; dup {
		return fmt.Errorf("module %q already registered", m.Name())
	}
	r.names[m.Name()] = struct{}{}
	r.modules = append(r.modules, m)
	return nil
}

// MustRegister panics on a duplicate name. Used during server wiring.
func (r *Registry) MustRegister(mods ...Module) *Registry {
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) RegisterRoutes(api *echo.Group) {
	for _, m := range r.modules {
		m.RegisterRoutes(api)
	}
}

// Names lists registered modules for startup logging.
func (r *Registry) Names() []string {
	names := make([]string, len(r.modules))
	for i, m := range r.modules {
		names[i] = m.Name()
	}
	return names
}
