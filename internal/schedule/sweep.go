package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

// sweepGrace is how long past its expected end a job may stay
// em_execucao before the sweep reclaims it.
const sweepGrace = 60 * time.Second

func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopSweep:
			return
		}
	}
}

// Sweep reclaims jobs stuck in em_execucao past their recording window.
// A job gets stuck when the process died mid-capture; without this the
// trigger never re-arms and the job is silently dead.
func (s *Scheduler) Sweep(ctx context.Context) {
	jobs, err := s.store.JobsByStatus(ctx, domain.JobEmExecucao)
	if err != nil {
		s.logger.Error("sweep: list running jobs", zap.Error(err))
		return
	}

	now := s.now().In(s.loc)
	for i := range jobs {
		job := jobs[i]
		expectedEnd := localWallClock(job.DataInicio, s.loc).
			Add(time.Duration(job.DuracaoMinutos) * time.Minute).
			Add(sweepGrace)
		if now.Before(expectedEnd) {
			continue
		}

		job.Status = job.PostRunStatus()
		job.AtualizadoEm = s.now()
		if err := s.store.SaveJob(ctx, &job); err != nil {
			s.logger.Error("sweep: save reclaimed job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.notifier.Publish(job.UserID, "agendamento_updated", &job)
		s.logger.Warn("sweep reclaimed stuck job",
			zap.String("job_id", job.ID),
			zap.String("status", job.Status),
		)

		if job.Recurring() {
			if err := s.Schedule(ctx, &job); err != nil {
				s.logger.Error("sweep: re-arm reclaimed job", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}
