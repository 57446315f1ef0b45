package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MonthArchiver exports one calendar month of sales.
type MonthArchiver interface {
	ArchiveMonth(ctx context.Context, t time.Time) (int64, error)
}

// Archiver exports the previous month's sales to cold storage on a cron
// schedule.
type Archiver struct {
	months MonthArchiver
	now    func() time.Time
	logger *slog.Logger
}

func NewArchiver(months MonthArchiver, logger *slog.Logger) *Archiver {
	return &Archiver{
		months: months,
		now:    time.Now,
		logger: logger.With(slog.String("component", "sales_archiver")),
	}
}

// Run archives the month before the current one.
func (a *Archiver) Run(ctx context.Context) error {
	prev := a.now().UTC().AddDate(0, 0, -a.now().UTC().Day())
	n, err := a.months.ArchiveMonth(ctx, prev)
	if err != nil {
		return fmt.Errorf("archive %s: %w", prev.Format("2006-01"), err)
	}
	a.logger.Info("sales archive run complete",
		slog.String("month", prev.Format("2006-01")),
		slog.Int64("archived", n),
	)
	return nil
}

// RunCron runs the archiver whenever expr matches until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseSchedule(expr)
	if err != nil {
		return err
	}
	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return err
		}
		a.logger.Debug("next archive run", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
