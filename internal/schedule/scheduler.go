package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
	"github.com/Ambiente-MSL/clipradio/internal/notify"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	Job(ctx context.Context, id string) (*domain.ScheduledJob, error)
	SaveJob(ctx context.Context, job *domain.ScheduledJob) error
	JobsByStatus(ctx context.Context, status string) ([]domain.ScheduledJob, error)
	Radio(ctx context.Context, id string) (*domain.Radio, error)
	CreateRecording(ctx context.Context, rec *domain.Recording) error
	SaveRecording(ctx context.Context, rec *domain.Recording) error
}

// Recorder runs a blocking capture for a fired job.
type Recorder interface {
	Record(ctx context.Context, rec *domain.Recording, job *domain.ScheduledJob, seconds int) error
}

// StreamValidator pre-checks a stream before a fired job commits to it.
type StreamValidator interface {
	Validate(ctx context.Context, streamURL string, timeout time.Duration) (bool, string)
}

// Options tune scheduler behavior.
type Options struct {
	ValidateOnSchedule bool
	ValidateOnExecute  bool
	ValidateTimeout    time.Duration
	SweepInterval      time.Duration
}

// Scheduler arms cron triggers for persisted jobs and fires captures at
// the right wall-clock time in the configured timezone. A background
// sweep recovers jobs whose process died mid-run.
type Scheduler struct {
	store     Store
	recorder  Recorder
	validator StreamValidator
	notifier  notify.Publisher
	logger    *zap.Logger
	loc       *time.Location
	opts      Options

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool

	stopSweep chan struct{}
	now       func() time.Time
}

func New(store Store, recorder Recorder, validator StreamValidator, notifier notify.Publisher, loc *time.Location, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	return &Scheduler{
		store:     store,
		recorder:  recorder,
		validator: validator,
		notifier:  notifier,
		logger:    logger,
		loc:       loc,
		opts:      opts,
		cron:      cron.New(cron.WithLocation(loc)),
		entries:   make(map[string]cron.EntryID),
		stopSweep: make(chan struct{}),
		now:       time.Now,
	}
}

// Init starts the cron runner, re-arms all agendado jobs and launches
// the sweep. Idempotent.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()

	jobs, err := s.store.JobsByStatus(ctx, domain.JobAgendado)
	if err != nil {
		return fmt.Errorf("load scheduled jobs: %w", err)
	}
	for i := range jobs {
		job := jobs[i]
		if err := s.Schedule(ctx, &job); err != nil {
			s.logger.Warn("re-arm job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	s.logger.Info("scheduler initialized", zap.Int("jobs", len(jobs)))

	go s.sweepLoop()
	return nil
}

// Schedule arms (or re-arms) the trigger for a job. An existing trigger
// for the same job is replaced.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.ScheduledJob) error {
	s.Unschedule(job.ID)

	if s.opts.ValidateOnSchedule && s.validator != nil {
		radio, err := s.store.Radio(ctx, job.RadioID)
		if err == nil && radio != nil {
			if ok, reason := s.validator.Validate(ctx, radio.StreamURL, s.opts.ValidateTimeout); !ok {
				return fmt.Errorf("stream validation failed: %s", reason)
			}
		}
	}

	start := localWallClock(job.DataInicio, s.loc)
	jobID := job.ID

	var sched cron.Schedule
	switch job.TipoRecorrencia {
	case "", domain.RecurrenceNone:
		if !start.After(s.now().In(s.loc)) {
			s.logger.Warn("one-shot job start is in the past",
				zap.String("job_id", jobID), zap.Time("start", start))
		}
		sched = oneShot{at: start}
	case domain.RecurrenceDaily, domain.RecurrenceWeekly, domain.RecurrenceMonthly:
		spec, err := cronSpecFor(job, start)
		if err != nil {
			return err
		}
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("parse cron spec %q: %w", spec, err)
		}
		sched = parsed
	default:
		return fmt.Errorf("unknown recurrence %q", job.TipoRecorrencia)
	}

	entryID := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(jobID) }))

	s.mu.Lock()
	s.entries[jobID] = entryID
	s.mu.Unlock()
	return nil
}

func cronSpecFor(job *domain.ScheduledJob, start time.Time) (string, error) {
	switch job.TipoRecorrencia {
	case domain.RecurrenceDaily:
		return fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour()), nil
	case domain.RecurrenceWeekly:
		days := NormalizeWeekdays(job.DiasSemanaList(), start.Weekday())
		return fmt.Sprintf("%d %d * * %s", start.Minute(), start.Hour(), cronDayList(days)), nil
	case domain.RecurrenceMonthly:
		return fmt.Sprintf("%d %d %d * *", start.Minute(), start.Hour(), start.Day()), nil
	default:
		return "", fmt.Errorf("unknown recurrence %q", job.TipoRecorrencia)
	}
}

// Unschedule removes the trigger for a job, if armed.
func (s *Scheduler) Unschedule(jobID string) {
	s.mu.Lock()
	entryID, ok := s.entries[jobID]
	if ok {
		delete(s.entries, jobID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

// ActiveTriggers lists the job ids with an armed trigger.
func (s *Scheduler) ActiveTriggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops the cron runner and the sweep. Running captures are not
// interrupted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cron.Stop()
	if wasRunning {
		close(s.stopSweep)
	}
}

// fire executes one occurrence of a job: create the recording row, mark
// the job em_execucao, run the capture to completion, then make sure the
// job did not get stuck in em_execucao.
func (s *Scheduler) fire(jobID string) {
	ctx := context.Background()

	job, err := s.store.Job(ctx, jobID)
	if err != nil || job == nil {
		s.logger.Warn("fired job unavailable", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != domain.JobAgendado {
		s.logger.Info("fired job not in agendado, skipping",
			zap.String("job_id", jobID), zap.String("status", job.Status))
		return
	}

	if s.opts.ValidateOnExecute && s.validator != nil {
		if ok := s.validateStream(ctx, job); !ok {
			return
		}
	}

	rec := &domain.Recording{
		ID:             uuid.NewString(),
		UserID:         job.UserID,
		RadioID:        job.RadioID,
		Status:         domain.RecordingIniciando,
		Tipo:           domain.TipoAgendado,
		DuracaoMinutos: job.DuracaoMinutos,
		CriadoEm:       s.now(),
		AtualizadoEm:   s.now(),
	}
	if err := s.store.CreateRecording(ctx, rec); err != nil {
		s.logger.Error("create recording for fired job",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}

	job.Status = domain.JobEmExecucao
	job.AtualizadoEm = s.now()
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.logger.Error("mark job em_execucao", zap.String("job_id", jobID), zap.Error(err))
	}
	s.notifier.Publish(job.UserID, "agendamento_updated", job)

	if err := s.recorder.Record(ctx, rec, job, job.DuracaoMinutos*60); err != nil {
		s.logger.Error("scheduled capture failed to start",
			zap.String("job_id", jobID), zap.Error(err))
		rec.Status = domain.RecordingErro
		rec.AtualizadoEm = s.now()
		if saveErr := s.store.SaveRecording(ctx, rec); saveErr != nil {
			s.logger.Error("persist failed recording", zap.String("recording_id", rec.ID), zap.Error(saveErr))
		}
		s.notifier.Publish(rec.UserID, "gravacao_updated", rec)

		job.Status = domain.JobErro
		job.AtualizadoEm = s.now()
		if saveErr := s.store.SaveJob(ctx, job); saveErr != nil {
			s.logger.Error("mark job erro", zap.String("job_id", jobID), zap.Error(saveErr))
		}
		s.notifier.Publish(job.UserID, "agendamento_updated", job)
	}

	// The capture path finalizes the job itself; this only repairs jobs
	// left em_execucao by a failure in between.
	fresh, err := s.store.Job(ctx, jobID)
	if err == nil && fresh != nil && fresh.Status == domain.JobEmExecucao {
		fresh.Status = fresh.PostRunStatus()
		fresh.AtualizadoEm = s.now()
		if err := s.store.SaveJob(ctx, fresh); err != nil {
			s.logger.Error("repair job status", zap.String("job_id", jobID), zap.Error(err))
		}
		s.notifier.Publish(fresh.UserID, "agendamento_updated", fresh)
	}

	if !job.Recurring() {
		s.Unschedule(jobID)
	}
}

func (s *Scheduler) validateStream(ctx context.Context, job *domain.ScheduledJob) bool {
	radio, err := s.store.Radio(ctx, job.RadioID)
	if err != nil || radio == nil {
		s.logger.Warn("radio unavailable for fired job",
			zap.String("job_id", job.ID), zap.Error(err))
		return true
	}
	ok, reason := s.validator.Validate(ctx, radio.StreamURL, s.opts.ValidateTimeout)
	if ok {
		return true
	}

	s.logger.Warn("stream validation failed for fired job",
		zap.String("job_id", job.ID),
		zap.String("radio_id", job.RadioID),
		zap.String("reason", reason),
	)
	job.Status = domain.JobErro
	job.AtualizadoEm = s.now()
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.logger.Error("mark job erro", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.notifier.Publish(job.UserID, "agendamento_updated", job)
	s.Unschedule(job.ID)
	return false
}

// oneShot fires exactly once at a fixed instant.
type oneShot struct {
	at time.Time
}

func (o oneShot) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

// localWallClock reinterprets a naive timestamp in the scheduler's
// timezone. Stored times carry no zone; their fields are the intended
// local wall-clock values.
func localWallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
