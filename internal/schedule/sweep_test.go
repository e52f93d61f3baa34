package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

func TestSweepReclaimsStuckOneShot(t *testing.T) {
	t.Parallel()

	job := futureWeeklyJob()
	job.TipoRecorrencia = domain.RecurrenceNone
	job.Status = domain.JobEmExecucao
	job.DataInicio = time.Now().UTC().Add(-time.Hour)
	job.DuracaoMinutos = 5

	store := newFakeStore(job)
	s := newTestScheduler(store, &fakeRecorder{}, nil, Options{})

	s.Sweep(context.Background())
	require.Equal(t, domain.JobConcluido, store.jobStatus(t, job.ID))
	require.Empty(t, s.ActiveTriggers())
}

func TestSweepReclaimsAndReArmsRecurring(t *testing.T) {
	t.Parallel()

	job := futureWeeklyJob()
	job.Status = domain.JobEmExecucao
	job.DataInicio = time.Now().UTC().Add(-time.Hour)
	job.DuracaoMinutos = 5

	store := newFakeStore(job)
	s := newTestScheduler(store, &fakeRecorder{}, nil, Options{})

	s.Sweep(context.Background())
	require.Equal(t, domain.JobAgendado, store.jobStatus(t, job.ID))
	require.Equal(t, []string{"job1"}, s.ActiveTriggers())
}

func TestSweepLeavesRunningJobAlone(t *testing.T) {
	t.Parallel()

	job := futureWeeklyJob()
	job.Status = domain.JobEmExecucao
	job.DataInicio = time.Now().UTC().Add(-time.Minute)
	job.DuracaoMinutos = 30

	store := newFakeStore(job)
	s := newTestScheduler(store, &fakeRecorder{}, nil, Options{})

	s.Sweep(context.Background())
	require.Equal(t, domain.JobEmExecucao, store.jobStatus(t, job.ID))
}

func TestSweepIgnoresNonRunningJobs(t *testing.T) {
	t.Parallel()

	job := futureWeeklyJob()
	store := newFakeStore(job)
	s := newTestScheduler(store, &fakeRecorder{}, nil, Options{})

	s.Sweep(context.Background())
	require.Equal(t, domain.JobAgendado, store.jobStatus(t, job.ID))
}
