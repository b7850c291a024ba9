package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/store"
	"github.com/fuomag9/server-uptime/internal/uptime"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron  *cron.Cron
	store *store.Store
	loc   *time.Location
	log   *zap.Logger
}

// NewScheduler creates a new job scheduler
func NewScheduler(st *store.Store, loc *time.Location, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithLocation(loc)),
		store: st,
		loc:   loc,
		log:   log,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Log a per-server summary of yesterday's uptime shortly after midnight
	s.cron.AddFunc("5 0 * * *", func() {
		s.reportYesterday()
	})

	s.cron.Start()
	s.log.Info("job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("job scheduler stopped")
}

// reportYesterday logs each server's final counter for the previous day.
// Purely informational; retention and alerting are out of scope.
func (s *Scheduler) reportYesterday() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	yesterday := uptime.DateOf(time.Now().In(s.loc).AddDate(0, 0, -1))
	recs, err := s.store.UptimeForDate(ctx, yesterday)
	if err != nil {
		s.log.Error("daily report failed", zap.Error(err))
		return
	}

	for _, rec := range recs {
		s.log.Info("daily uptime report",
			zap.String("server_name", rec.Server.Name),
			zap.String("date", yesterday.Format("2006-01-02")),
			zap.Int64("uptime", rec.Uptime),
			zap.Float64("uptime_percentage", rec.UptimePercentage))
	}

	if len(recs) == 0 {
		s.log.Info("daily uptime report: no heartbeats recorded",
			zap.String("date", yesterday.Format("2006-01-02")))
	}
}
