package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]*domain.Recording
}

func newMemStore(recs ...*domain.Recording) *memStore {
	m := &memStore{recs: make(map[string]*domain.Recording)}
	for _, r := range recs {
		cp := *r
		m.recs[r.ID] = &cp
	}
	return m
}

func (m *memStore) Recording(_ context.Context, id string) (*domain.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) SaveRecording(_ context.Context, rec *domain.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *memStore) get(t *testing.T, id string) domain.Recording {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	require.True(t, ok)
	return *rec
}

func (m *memStore) mutate(id string, fn func(*domain.Recording)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[id]; ok {
		fn(rec)
	}
}

// hookSegments invokes a callback before yielding each segment so tests
// can flip cancellation flags mid-stream.
type hookSegments struct {
	segs   []Segment
	idx    int
	before func(i int)
}

func (h *hookSegments) Next() bool {
	if h.idx >= len(h.segs) {
		return false
	}
	if h.before != nil {
		h.before(h.idx)
	}
	h.idx++
	return true
}

func (h *hookSegments) Segment() Segment { return h.segs[h.idx-1] }
func (h *hookSegments) Err() error       { return nil }
func (h *hookSegments) Close() error     { return nil }

type fakeEngine struct {
	language string
	duration float64
	segs     Segments
	perCall  []Segments
	err      error

	mu    sync.Mutex
	calls int
}

func (f *fakeEngine) Transcribe(_ context.Context, _ Request) (*Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	segs := f.segs
	if call <= len(f.perCall) {
		segs = f.perCall[call-1]
	}
	return &Result{Language: f.language, Duration: f.duration, Segments: segs}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func factoryFor(engine Engine) EngineFactory {
	return func() (Engine, error) { return engine, nil }
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Enabled:           true,
		Model:             "tiny",
		Language:          "pt",
		TextUpdateSeconds: 10,
		MaxConcurrent:     1,
		AudioDir:          dir,
		TranscriptDir:     filepath.Join(dir, "transcripts"),
		ProbeBin:          filepath.Join(dir, "no-such-probe"),
	}
}

func writeAudio(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func baseRecording() *domain.Recording {
	return &domain.Recording{
		ID:              "rec1",
		UserID:          "u1",
		Status:          domain.RecordingConcluido,
		ArquivoNome:     "rec1_20260101_080000.mp3",
		DuracaoSegundos: 20,
	}
}

func waitForStatus(t *testing.T, store *memStore, id, status string) domain.Recording {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.get(t, id).TranscricaoStatus == status
	}, 5*time.Second, 10*time.Millisecond)
	return store.get(t, id)
}

func TestEnqueueTranscribesRecording(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	engine := &fakeEngine{language: "pt", segs: NewSliceSegments([]Segment{
		{Start: 0, End: 8, Text: "bom dia fortaleza"},
		{Start: 8, End: 20, Text: "agora as notícias"},
	})}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	got := waitForStatus(t, store, rec.ID, domain.TranscriptionConcluido)
	require.Equal(t, "bom dia fortaleza agora as notícias", got.TranscricaoTexto)
	require.Equal(t, 100, got.TranscricaoProgresso)
	require.Equal(t, "pt", got.TranscricaoIdioma)
	require.Equal(t, "tiny", got.TranscricaoModelo)
	require.Empty(t, got.TranscricaoErro)

	segs, err := ReadSegments(cfg.TranscriptDir, rec.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
}

func TestEnqueueSkipsAlreadyTranscribed(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	rec.TranscricaoStatus = domain.TranscriptionConcluido
	rec.TranscricaoTexto = "já transcrito"
	store := newMemStore(rec)

	engine := &fakeEngine{segs: NewSliceSegments(nil)}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)
	time.Sleep(50 * time.Millisecond)

	got := store.get(t, rec.ID)
	require.Equal(t, "já transcrito", got.TranscricaoTexto)
	require.Zero(t, engine.calls)
}

func TestMissingAudioFileFails(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	store := newMemStore(rec)

	pool := NewPool(cfg, store, nil, factoryFor(&fakeEngine{}), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	got := waitForStatus(t, store, rec.ID, domain.TranscriptionErro)
	require.Equal(t, "arquivo_de_audio_nao_encontrado", got.TranscricaoErro)
}

func TestTinyAudioFileFailsUnlessForced(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 10)
	store := newMemStore(rec)

	engine := &fakeEngine{segs: NewSliceSegments([]Segment{{Start: 0, End: 2, Text: "oi"}})}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)
	got := waitForStatus(t, store, rec.ID, domain.TranscriptionErro)
	require.Equal(t, "arquivo_de_audio_invalido", got.TranscricaoErro)

	pool.Enqueue(rec.ID, true)
	got = waitForStatus(t, store, rec.ID, domain.TranscriptionConcluido)
	require.Equal(t, "oi", got.TranscricaoTexto)
}

func TestEmptyTranscriptionFails(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	engine := &fakeEngine{segs: NewSliceSegments(nil)}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	got := waitForStatus(t, store, rec.ID, domain.TranscriptionErro)
	require.Equal(t, "transcricao_vazia", got.TranscricaoErro)
}

func TestEngineFailureTruncatesError(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	long := make([]byte, 800)
	for i := range long {
		long[i] = 'x'
	}
	engine := &fakeEngine{err: errors.New(string(long))}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	got := waitForStatus(t, store, rec.ID, domain.TranscriptionErro)
	require.Len(t, got.TranscricaoErro, 500)
}

func TestCancellationMidStreamKeepsPartialText(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	segs := []Segment{
		{Start: 0, End: 5, Text: "primeiro"},
		{Start: 5, End: 10, Text: "segundo"},
		{Start: 10, End: 15, Text: "terceiro"},
	}
	stream := &hookSegments{segs: segs}
	stream.before = func(i int) {
		if i == 2 {
			store.mutate(rec.ID, func(r *domain.Recording) {
				r.TranscricaoCancelada = true
			})
		}
	}
	engine := &fakeEngine{segs: stream}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	// The segment that was decoding when the stop landed never reaches
	// the committed text.
	got := waitForStatus(t, store, rec.ID, domain.TranscriptionInterrompido)
	require.Equal(t, "primeiro segundo", got.TranscricaoTexto)
	require.NotContains(t, got.TranscricaoTexto, "terceiro")
	require.NotEqual(t, 100, got.TranscricaoProgresso)
}

func TestForcedResubmissionRunsAgain(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	release := make(chan struct{})
	first := &hookSegments{segs: []Segment{{Start: 0, End: 20, Text: "primeira passada"}}}
	first.before = func(int) { <-release }
	second := NewSliceSegments([]Segment{{Start: 0, End: 20, Text: "segunda passada"}})
	engine := &fakeEngine{language: "pt", perCall: []Segments{first, second}}

	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)
	require.Eventually(t, func() bool { return pool.Active() == 1 }, 5*time.Second, 10*time.Millisecond)

	// A non-forced duplicate coalesces with the running job; a forced
	// one queues a second run behind it.
	pool.Enqueue(rec.ID, false)
	pool.Enqueue(rec.ID, true)
	close(release)

	require.Eventually(t, func() bool {
		return store.get(t, rec.ID).TranscricaoTexto == "segunda passada"
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, engine.callCount())
}

func TestEngineReportedDurationDrivesProgress(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	rec.DuracaoSegundos = 0
	writeAudio(t, cfg.AudioDir, rec.ArquivoNome, 4096)
	store := newMemStore(rec)

	engine := &fakeEngine{language: "pt", duration: 40, segs: NewSliceSegments([]Segment{
		{Start: 0, End: 10, Text: "metade"},
		{Start: 10, End: 20, Text: "fim"},
	})}
	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec.ID, false)

	got := waitForStatus(t, store, rec.ID, domain.TranscriptionConcluido)
	require.Equal(t, 40, got.DuracaoSegundos)
	require.Equal(t, 1, got.DuracaoMinutos)
}

func TestRequestStop(t *testing.T) {
	cfg := testConfig(t)
	rec := baseRecording()
	rec.TranscricaoStatus = domain.TranscriptionProcessando
	store := newMemStore(rec)

	pool := NewPool(cfg, store, nil, factoryFor(&fakeEngine{}), nil)
	defer pool.Close()

	require.NoError(t, pool.RequestStop(context.Background(), rec.ID))
	got := store.get(t, rec.ID)
	require.Equal(t, domain.TranscriptionInterrompendo, got.TranscricaoStatus)
	require.True(t, got.TranscricaoCancelada)

	idle := baseRecording()
	idle.ID = "rec2"
	store2 := newMemStore(idle)
	pool2 := NewPool(cfg, store2, nil, factoryFor(&fakeEngine{}), nil)
	defer pool2.Close()
	require.Error(t, pool2.RequestStop(context.Background(), idle.ID))
	require.Error(t, pool2.RequestStop(context.Background(), "missing"))

	// Stop requests are refused outright when transcription is disabled.
	disabledCfg := cfg
	disabledCfg.Enabled = false
	pool3 := NewPool(disabledCfg, store, nil, factoryFor(&fakeEngine{}), nil)
	defer pool3.Close()
	err := pool3.RequestStop(context.Background(), rec.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disabled")
}

func TestSecondJobWaitsInQueue(t *testing.T) {
	cfg := testConfig(t)
	rec1 := baseRecording()
	rec2 := baseRecording()
	rec2.ID = "rec2"
	rec2.ArquivoNome = "rec2_20260101_080000.mp3"
	writeAudio(t, cfg.AudioDir, rec1.ArquivoNome, 4096)
	writeAudio(t, cfg.AudioDir, rec2.ArquivoNome, 4096)
	store := newMemStore(rec1, rec2)

	release := make(chan struct{})
	stream := &hookSegments{segs: []Segment{{Start: 0, End: 5, Text: "ok"}}}
	stream.before = func(int) { <-release }
	engine := &fakeEngine{segs: stream}

	pool := NewPool(cfg, store, nil, factoryFor(engine), nil)
	defer pool.Close()

	pool.Enqueue(rec1.ID, false)
	require.Eventually(t, func() bool { return pool.Active() == 1 }, 5*time.Second, 10*time.Millisecond)

	pool.Enqueue(rec2.ID, false)
	require.Equal(t, domain.TranscriptionFila, store.get(t, rec2.ID).TranscricaoStatus)

	close(release)
	waitForStatus(t, store, rec1.ID, domain.TranscriptionConcluido)
}

func TestNextProgress(t *testing.T) {
	t.Parallel()

	require.Equal(t, 50, nextProgress(0, 10, 20))
	require.Equal(t, 1, nextProgress(0, 0.1, 100))
	require.Equal(t, 99, nextProgress(0, 20, 20))
	require.Equal(t, 99, nextProgress(0, 30, 20))

	// Monotonic even if the engine reports out-of-order ends.
	require.Equal(t, 60, nextProgress(60, 5, 20))

	// Unknown total creeps one point per segment.
	require.Equal(t, 1, nextProgress(0, 5, 0))
	require.Equal(t, 43, nextProgress(42, 5, 0))
	require.Equal(t, 99, nextProgress(99, 5, 0))
}
