package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field, 6-field (with seconds) and descriptor schedules.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ValidateSchedule reports whether spec is a usable watch schedule.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", spec, err)
	}

	return nil
}

// Watch re-derives the push state and syncs every connection on schedule until
// ctx is done. The first round runs immediately.
func (m *Manager) Watch(ctx context.Context, schedule string) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { m.round(ctx) }))

	m.round(ctx)

	c.Start()
	m.logger.Info("watching", slog.String("schedule", schedule))

	<-ctx.Done()

	<-c.Stop().Done()

	return nil
}

func (m *Manager) round(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := m.RefreshPush(ctx); err != nil {
		m.logger.Warn("push refresh failed", slog.String("error", err.Error()))
	}

	states, err := m.SyncAll(ctx)
	if err != nil {
		m.logger.Warn("sync round failed", slog.String("error", err.Error()))
		return
	}

	m.logger.Debug("sync round done", slog.Int("pairs", len(states)))
}
