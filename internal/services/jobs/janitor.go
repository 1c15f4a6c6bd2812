package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
)

// Janitor periodically fails jobs stuck in processing. A worker crash
// leaves its job processing forever; the sweep turns those into visible
// failures instead of silent hangs.
type Janitor struct {
	store      interfaces.JobStore
	logger     arbor.ILogger
	cron       *cron.Cron
	schedule   string
	staleAfter time.Duration
}

// NewJanitor creates a stale-job janitor
func NewJanitor(store interfaces.JobStore, jobsConfig *common.JobsConfig, logger arbor.ILogger) *Janitor {
	schedule := jobsConfig.JanitorSchedule
	if schedule == "" {
		schedule = "@every 2m"
	}
	return &Janitor{
		store:      store,
		logger:     logger,
		schedule:   schedule,
		staleAfter: common.ParseDurationOr(jobsConfig.StaleAfter, 20*time.Minute),
	}
}

// Start schedules the sweep
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()

	j.logger.Info().
		Str("schedule", j.schedule).
		Dur("stale_after", j.staleAfter).
		Msg("Stale-job janitor started")

	return nil
}

// Stop halts the sweep schedule, waiting for a running sweep to finish
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed, err := j.store.FailStale(ctx, j.staleAfter)
	if err != nil {
		j.logger.Warn().
			Err(err).
			Msg("Stale-job sweep failed")
		return
	}
	if failed > 0 {
		j.logger.Info().
			Int("failed", failed).
			Msg("Stale jobs failed by janitor")
	}
}
