package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/capture"
	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

const (
	errAudioMissing = "arquivo_de_audio_nao_encontrado"
	errAudioInvalid = "arquivo_de_audio_invalido"
	errEmptyResult  = "transcricao_vazia"

	// minAudioBytes rejects stub files left behind by captures that died
	// before writing any frames.
	minAudioBytes = 1024

	errTruncateLimit = 500
)

func (p *Pool) transcribe(ctx context.Context, rec *domain.Recording, force bool) {
	path := p.resolveAudioPath(ctx, rec)
	if path == "" {
		p.fail(ctx, rec, errAudioMissing)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		p.fail(ctx, rec, errAudioMissing)
		return
	}
	if info.Size() < minAudioBytes && !force {
		p.fail(ctx, rec, errAudioInvalid)
		return
	}

	rec.TranscricaoStatus = domain.TranscriptionProcessando
	rec.TranscricaoModelo = p.cfg.Model
	rec.TranscricaoProgresso = 0
	rec.TranscricaoErro = ""
	p.commit(ctx, rec)

	if p.cfg.MaxConcurrent <= 1 {
		p.inferMu.Lock()
		defer p.inferMu.Unlock()
	}

	if p.cancelRequested(ctx, rec.ID) {
		rec.TranscricaoStatus = domain.TranscriptionInterrompido
		p.commit(ctx, rec)
		return
	}

	engine, err := p.loadEngine()
	if err != nil {
		p.fail(ctx, rec, err.Error())
		return
	}

	res, err := engine.Transcribe(ctx, Request{
		Path:            path,
		Language:        p.cfg.Language,
		BeamSize:        p.cfg.BeamSize,
		BestOf:          p.cfg.BestOf,
		VAD:             p.cfg.VAD,
		VADMinSilenceMS: p.cfg.VADMinSilenceMS,
		ChunkLength:     p.cfg.ChunkLength,
	})
	if err != nil {
		p.fail(ctx, rec, err.Error())
		return
	}

	stream := res.Segments
	defer func() { _ = stream.Close() }()

	// Total duration for progress scaling: stored value, then whatever
	// the engine reported, then a probe of the file itself.
	totalSeconds := float64(rec.DuracaoSegundos)
	if totalSeconds <= 0 && res.Duration > 0 {
		totalSeconds = res.Duration
	}
	if totalSeconds <= 0 {
		if probed, ok := capture.ProbeDurationSeconds(ctx, p.cfg.ProbeBin, path); ok {
			totalSeconds = float64(probed)
		}
	}
	if rec.DuracaoSegundos <= 0 && totalSeconds > 0 {
		rec.DuracaoSegundos = int(totalSeconds + 0.5)
		rec.DuracaoMinutos = domain.MinutesFor(rec.DuracaoSegundos)
	}

	var (
		segments    []Segment
		text        strings.Builder
		lastTextEnd float64
	)

	for stream.Next() {
		// A stop issued while this segment was decoding must leave the
		// committed text without it.
		if p.cancelRequested(ctx, rec.ID) {
			rec.TranscricaoStatus = domain.TranscriptionInterrompido
			rec.TranscricaoTexto = strings.TrimSpace(text.String())
			rec.TranscricaoCancelada = true
			p.commit(ctx, rec)
			return
		}

		seg := stream.Segment()
		segments = append(segments, seg)
		if seg.Text != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(seg.Text)
		}

		progress := nextProgress(rec.TranscricaoProgresso, seg.End, totalSeconds)
		progressUpdate := progress > rec.TranscricaoProgresso
		textUpdate := seg.End-lastTextEnd >= float64(p.cfg.TextUpdateSeconds)

		if progressUpdate || textUpdate {
			rec.TranscricaoProgresso = progress
			if textUpdate {
				rec.TranscricaoTexto = strings.TrimSpace(text.String())
				lastTextEnd = seg.End
			}
			p.commit(ctx, rec)
		}
	}
	if err := stream.Err(); err != nil {
		p.fail(ctx, rec, err.Error())
		return
	}

	final := strings.TrimSpace(text.String())
	if final == "" {
		p.fail(ctx, rec, errEmptyResult)
		return
	}

	language := res.Language
	if language == "" {
		language = p.cfg.Language
	}

	rec.TranscricaoStatus = domain.TranscriptionConcluido
	rec.TranscricaoProgresso = 100
	rec.TranscricaoTexto = final
	rec.TranscricaoIdioma = language
	rec.TranscricaoModelo = p.cfg.Model
	rec.TranscricaoErro = ""
	p.commit(ctx, rec)

	if err := WriteSegments(p.cfg.TranscriptDir, rec.ID, segments); err != nil {
		p.logger.Warn("write transcript segments",
			zap.String("recording_id", rec.ID), zap.Error(err))
	}
}

// nextProgress maps the decoded position to a 1..99 percentage; 100 is
// reserved for the final commit. Without a known total the value creeps
// up one point per segment so clients still see movement.
func nextProgress(current int, endSeconds, totalSeconds float64) int {
	var progress int
	if totalSeconds > 0 {
		progress = int(endSeconds / totalSeconds * 100)
		if progress < 1 && endSeconds > 0 {
			progress = 1
		}
	} else {
		progress = current + 1
	}
	if progress > 99 {
		progress = 99
	}
	if progress < current {
		progress = current
	}
	return progress
}

// cancelRequested re-reads the recording so a stop issued from another
// process is honored between segments.
func (p *Pool) cancelRequested(ctx context.Context, recordingID string) bool {
	fresh, err := p.store.Recording(ctx, recordingID)
	if err != nil || fresh == nil {
		return false
	}
	return fresh.TranscricaoCancelada || fresh.TranscricaoStatus == domain.TranscriptionInterrompendo
}

// resolveAudioPath finds the capture file, repairing the stored name when
// it is missing by scanning for the newest file prefixed with the
// recording id.
func (p *Pool) resolveAudioPath(ctx context.Context, rec *domain.Recording) string {
	if rec.ArquivoNome != "" {
		path := filepath.Join(p.cfg.AudioDir, rec.ArquivoNome)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	entries, err := os.ReadDir(p.cfg.AudioDir)
	if err != nil {
		return ""
	}
	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), rec.ID+"_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = entry.Name()
			newestMod = mod
		}
	}
	if newest == "" {
		return ""
	}

	rec.ArquivoNome = newest
	rec.ArquivoURL = "/api/files/audio/" + newest
	if err := p.store.SaveRecording(ctx, rec); err != nil {
		p.logger.Warn("repair recording file name",
			zap.String("recording_id", rec.ID), zap.Error(err))
	}
	return filepath.Join(p.cfg.AudioDir, newest)
}

func (p *Pool) fail(ctx context.Context, rec *domain.Recording, msg string) {
	if len(msg) > errTruncateLimit {
		msg = msg[:errTruncateLimit]
	}
	rec.TranscricaoStatus = domain.TranscriptionErro
	rec.TranscricaoErro = msg
	p.commit(ctx, rec)
}
