package schema

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/config"
)

// Module provides the schema registry and keeps it reloaded while the app runs
var Module = fx.Module("schema",
	fx.Provide(NewRegistry),
	fx.Provide(NewPoller),
	fx.Invoke(RegisterPollerLifecycle),
)

// Poller reloads the registry on a fixed interval
type Poller struct {
	cron     *cron.Cron
	registry *Registry
	interval time.Duration
	log      *zap.Logger
}

// NewPoller creates a poller for the configured interval. A zero interval
// disables polling.
func NewPoller(cfg *config.Config, registry *Registry) *Poller {
	return &Poller{
		cron:     cron.New(),
		registry: registry,
		interval: cfg.Schema.PollInterval,
		log:      registry.log,
	}
}

// Start schedules the reload job
func (p *Poller) Start() error {
	if p.interval <= 0 {
		p.log.Info("schema polling disabled")
		return nil
	}
	if _, err := p.cron.AddFunc("@every "+p.interval.String(), p.poll); err != nil {
		return err
	}
	p.cron.Start()
	p.log.Info("schema polling started", zap.Duration("interval", p.interval))
	return nil
}

// Stop waits for a running reload to finish or ctx to expire
func (p *Poller) Stop(ctx context.Context) {
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		p.log.Warn("schema poller stop timeout")
	}
}

func (p *Poller) poll() {
	if _, err := p.registry.Reload(); err != nil {
		p.log.Error("schema reload failed, keeping previous snapshot", zap.Error(err))
	}
}

// RegisterPollerLifecycle ties the poller to the fx application
func RegisterPollerLifecycle(lc fx.Lifecycle, p *Poller) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Start()
		},
		OnStop: func(ctx context.Context) error {
			p.Stop(ctx)
			return nil
		},
	})
}
