package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTranscriber) Enqueue(recordingID string, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordingID)
}

type fakeArchiver struct {
	ready      bool
	err        error
	remotePath string
	uploads    int
}

func (f *fakeArchiver) Ready() bool { return f.ready }

func (f *fakeArchiver) Archive(_ context.Context, _ *domain.Recording, _ string) (string, error) {
	f.uploads++
	return f.remotePath, f.err
}

func newTestFinalizer(t *testing.T, store *fakeStore, notifier *fakeNotifier, opts FinalizerOptions) *Finalizer {
	t.Helper()
	fin := NewFinalizer(store, notifier, opts, nil)
	fin.probeBin = filepath.Join(t.TempDir(), "no-such-probe")
	return fin
}

func writeAudioFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestFinalizeCommitsMetadataAndNotifies(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	notifier := &fakeNotifier{}
	fin := newTestFinalizer(t, store, notifier, FinalizerOptions{})
	path := writeAudioFile(t, 3*1024*1024)

	rec := &domain.Recording{ID: "rec1", UserID: "u1", Status: domain.RecordingGravando}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, path, 120, nil)

	require.Equal(t, domain.RecordingConcluido, rec.Status)
	require.Equal(t, 3.0, rec.TamanhoMB)
	require.Equal(t, 120, rec.DuracaoSegundos)
	require.Equal(t, 2, rec.DuracaoMinutos)
	require.False(t, rec.AtualizadoEm.IsZero())
	require.Len(t, store.recordings, 1)
	require.True(t, notifier.seen("gravacao_updated"))
}

func TestFinalizeRefusesTerminalRegression(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fin := newTestFinalizer(t, store, &fakeNotifier{}, FinalizerOptions{})

	rec := &domain.Recording{ID: "rec1", Status: domain.RecordingErro}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, "", 0, nil)

	require.Equal(t, domain.RecordingErro, rec.Status)
}

func TestFinalizeJobTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		recurrence string
		recStatus  string
		want       string
	}{
		{"recurring job re-arms after success", domain.RecurrenceDaily, domain.RecordingConcluido, domain.JobAgendado},
		{"one-shot job completes after success", domain.RecurrenceNone, domain.RecordingConcluido, domain.JobConcluido},
		{"recurring job errors after failure", domain.RecurrenceWeekly, domain.RecordingErro, domain.JobErro},
		{"one-shot job errors after failure", "", domain.RecordingErro, domain.JobErro},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore()
			notifier := &fakeNotifier{}
			fin := newTestFinalizer(t, store, notifier, FinalizerOptions{})

			rec := &domain.Recording{ID: "rec1", UserID: "u1", Status: domain.RecordingGravando}
			job := &domain.ScheduledJob{ID: "job1", UserID: "u1", TipoRecorrencia: tc.recurrence, Status: domain.JobEmExecucao}
			fin.Finalize(context.Background(), rec, tc.recStatus, "", 60, job)

			require.Equal(t, tc.want, job.Status)
			require.Len(t, store.jobs, 1)
			require.True(t, notifier.seen("agendamento_updated"))
		})
	}
}

func TestFinalizeEnqueuesTranscriptionOnSuccess(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	tr := &fakeTranscriber{}
	fin := newTestFinalizer(t, store, &fakeNotifier{}, FinalizerOptions{Transcriber: tr, TranscribeEnabled: true})

	rec := &domain.Recording{ID: "rec1", Status: domain.RecordingGravando}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, "", 60, nil)
	require.Equal(t, []string{"rec1"}, tr.calls)

	rec2 := &domain.Recording{ID: "rec2", Status: domain.RecordingGravando}
	fin.Finalize(context.Background(), rec2, domain.RecordingErro, "", 60, nil)
	require.Len(t, tr.calls, 1)
}

func TestFinalizeArchivesAndDeletesLocal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	arch := &fakeArchiver{ready: true, remotePath: "/remote/rec.mp3"}
	fin := newTestFinalizer(t, store, &fakeNotifier{}, FinalizerOptions{
		Archiver:          arch,
		DeleteAfterUpload: true,
	})
	path := writeAudioFile(t, 1024)

	rec := &domain.Recording{ID: "rec1", Status: domain.RecordingGravando}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, path, 60, nil)

	require.Equal(t, 1, arch.uploads)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFinalizeKeepsLocalWhileTranscriptionPending(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	arch := &fakeArchiver{ready: true, remotePath: "/remote/rec.mp3"}
	fin := newTestFinalizer(t, store, &fakeNotifier{}, FinalizerOptions{
		Archiver:          arch,
		DeleteAfterUpload: true,
		TranscribeEnabled: true,
	})
	path := writeAudioFile(t, 1024)

	rec := &domain.Recording{ID: "rec1", Status: domain.RecordingGravando, TranscricaoStatus: domain.TranscriptionFila}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, path, 60, nil)

	_, err := os.Stat(path)
	require.NoError(t, err)

	marker, err := os.ReadFile(path + ".dropbox")
	require.NoError(t, err)
	require.Contains(t, string(marker), "/remote/rec.mp3")
}

func TestFinalizeSurvivesArchiveFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	arch := &fakeArchiver{ready: true, err: errors.New("upload refused")}
	fin := newTestFinalizer(t, store, &fakeNotifier{}, FinalizerOptions{Archiver: arch, DeleteAfterUpload: true})
	path := writeAudioFile(t, 1024)

	rec := &domain.Recording{ID: "rec1", Status: domain.RecordingGravando}
	fin.Finalize(context.Background(), rec, domain.RecordingConcluido, path, 60, nil)

	require.Equal(t, domain.RecordingConcluido, rec.Status)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
