// Package connector pulls rows from external sources so they can be
// registered as tables. Connectors are registered explicitly by name.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/table"
)

var (
	logger = gologger.NewLogger()

	ErrDuplicate   = errors.New("connector already registered")
	ErrInvalidName = errors.New("invalid connector name")
)

type (
	Connector interface {
		// Fetch runs query against the source and returns flat rows
		Fetch(ctx context.Context, query string) ([]table.Row, error)
	}

	Registry struct {
		mu         sync.RWMutex
		connectors map[string]Connector
	}
)

func NewRegistry() *Registry {
	return &Registry{connectors: map[string]Connector{}}
}

func (r *Registry) Register(name string, c Connector) error {
	if name == "" {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.connectors[name] = c
	logger.Debug().Str("connector", name).Msg("registered connector")
	return nil
}

func (r *Registry) Get(name string) (Connector, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connector that holds resources.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, c := range r.connectors {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("error closing connector %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
