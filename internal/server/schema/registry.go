package schema

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/metrics"
)

// Registry holds the current schema snapshot. Readers call Current once per
// request; reloads swap the pointer and never mutate a published snapshot.
type Registry struct {
	dir     string
	current atomic.Pointer[Snapshot]
	reload  sync.Mutex
	log     *zap.Logger
	metrics *metrics.Registry
}

// NewRegistry loads the schema directory. A schema that fails to load at
// startup is fatal.
func NewRegistry(cfg *config.Config, log *zap.Logger, m *metrics.Registry) (*Registry, error) {
	r := &Registry{
		dir:     cfg.Schema.Dir,
		log:     log.With(logging.Component("schema")),
		metrics: m,
	}
	snap, err := LoadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("loading schema from %s: %w", r.dir, err)
	}
	r.current.Store(snap)
	r.log.Info("schema loaded",
		zap.String("dir", r.dir),
		zap.String("version", snap.Version),
		zap.Int("types", len(snap.Types)))
	return r, nil
}

// NewStaticRegistry serves a fixed snapshot
func NewStaticRegistry(snap *Snapshot) *Registry {
	r := &Registry{log: zap.NewNop()}
	r.current.Store(snap)
	return r
}

// Current returns the snapshot in effect now
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Reload re-reads the schema directory and swaps in the new snapshot when its
// version differs. On error the previous snapshot stays in place.
func (r *Registry) Reload() (changed bool, err error) {
	r.reload.Lock()
	defer r.reload.Unlock()

	if r.dir == "" {
		return false, nil
	}

	src, err := ReadDir(r.dir)
	if err != nil {
		r.observe("error")
		return false, err
	}
	if prev := r.current.Load(); prev != nil && prev.Version == src.Version() {
		r.observe("unchanged")
		return false, nil
	}
	snap, err := Compile(src)
	if err != nil {
		r.observe("error")
		return false, err
	}
	r.current.Store(snap)
	r.observe("changed")
	r.log.Info("schema reloaded", zap.String("version", snap.Version), zap.Int("types", len(snap.Types)))
	return true, nil
}

func (r *Registry) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.SchemaReloads.WithLabelValues(outcome).Inc()
	}
}
