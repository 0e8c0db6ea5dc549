package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Manager schedules background jobs on cron expressions and tears them
// down on shutdown.
type Manager struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		cron:   cron.New(),
		logger: logger,
	}
}

// Schedule registers a named job. Job errors are logged, never fatal;
// the next tick retries.
func (m *Manager) Schedule(spec, name string, job func(ctx context.Context) error) error {
	_, err := m.cron.AddFunc(spec, func() {
		ctx := context.Background()
		m.logger.InfoContext(ctx, "job started", "job", name)
		if err := job(ctx); err != nil {
			m.logger.ErrorContext(ctx, "job failed", "job", name, "error", err)
			return
		}
		m.logger.InfoContext(ctx, "job finished", "job", name)
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (m *Manager) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		m.logger.Warn("job manager shutdown timed out")
	}
}
