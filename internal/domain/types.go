package domain

import (
	"strings"
	"time"
)

// Recording lifecycle statuses. A recording only ever moves forward:
// iniciando -> gravando -> {concluido, erro}, with processando reserved
// for post-capture clip extraction.
const (
	RecordingIniciando   = "iniciando"
	RecordingGravando    = "gravando"
	RecordingProcessando = "processando"
	RecordingConcluido   = "concluido"
	RecordingErro        = "erro"
)

// Transcription sub-statuses on a recording.
const (
	TranscriptionFila          = "fila"
	TranscriptionProcessando   = "processando"
	TranscriptionInterrompendo = "interrompendo"
	TranscriptionInterrompido  = "interrompido"
	TranscriptionConcluido     = "concluido"
	TranscriptionErro          = "erro"
)

// Scheduled job statuses.
const (
	JobAgendado   = "agendado"
	JobEmExecucao = "em_execucao"
	JobInativo    = "inativo"
	JobErro       = "erro"
	JobConcluido  = "concluido"
)

// Recording origin types.
const (
	TipoManual   = "manual"
	TipoAgendado = "agendado"
	TipoMassa    = "massa"
)

// Recurrence kinds for scheduled jobs.
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// MinRecordSeconds is the floor for any capture duration; it guards
// against zero-length captures when the input drops immediately.
const MinRecordSeconds = 10

// Recording is one capture attempt and its resulting file/transcription
// state. Column names match the relational schema owned by the API layer.
type Recording struct {
	ID                   string    `gorm:"column:id;primaryKey" json:"id"`
	UserID               string    `gorm:"column:user_id" json:"user_id"`
	RadioID              string    `gorm:"column:radio_id" json:"radio_id"`
	Status               string    `gorm:"column:status" json:"status"`
	Tipo                 string    `gorm:"column:tipo" json:"tipo"`
	ArquivoURL           string    `gorm:"column:arquivo_url" json:"arquivo_url"`
	ArquivoNome          string    `gorm:"column:arquivo_nome" json:"arquivo_nome"`
	DuracaoSegundos      int       `gorm:"column:duracao_segundos" json:"duracao_segundos"`
	DuracaoMinutos       int       `gorm:"column:duracao_minutos" json:"duracao_minutos"`
	TamanhoMB            float64   `gorm:"column:tamanho_mb" json:"tamanho_mb"`
	TranscricaoStatus    string    `gorm:"column:transcricao_status" json:"transcricao_status"`
	TranscricaoTexto     string    `gorm:"column:transcricao_texto" json:"transcricao_texto,omitempty"`
	TranscricaoErro      string    `gorm:"column:transcricao_erro" json:"transcricao_erro"`
	TranscricaoIdioma    string    `gorm:"column:transcricao_idioma" json:"transcricao_idioma"`
	TranscricaoModelo    string    `gorm:"column:transcricao_modelo" json:"transcricao_modelo"`
	TranscricaoProgresso int       `gorm:"column:transcricao_progresso" json:"transcricao_progresso"`
	TranscricaoCancelada bool      `gorm:"column:transcricao_cancelada" json:"transcricao_cancelada"`
	BatchID              string    `gorm:"column:batch_id" json:"batch_id,omitempty"`
	CriadoEm             time.Time `gorm:"column:criado_em" json:"criado_em"`
	AtualizadoEm         time.Time `gorm:"column:atualizado_em" json:"atualizado_em"`
}

func (Recording) TableName() string { return "gravacoes" }

// RecordingTerminal reports whether a recording status may no longer change.
func RecordingTerminal(status string) bool {
	return status == RecordingConcluido || status == RecordingErro
}

// ValidRecordingTransition enforces the forward-only status machine.
func ValidRecordingTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case "", RecordingIniciando:
		return true
	case RecordingGravando:
		return to == RecordingConcluido || to == RecordingErro || to == RecordingProcessando
	case RecordingProcessando:
		return to == RecordingConcluido || to == RecordingErro
	default:
		return false
	}
}

// ScheduledJob is a persisted rule describing when and how often a capture
// should be triggered. DataInicio is stored as naive local wall-clock time.
type ScheduledJob struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	UserID          string    `gorm:"column:user_id" json:"user_id"`
	RadioID         string    `gorm:"column:radio_id" json:"radio_id"`
	DataInicio      time.Time `gorm:"column:data_inicio" json:"data_inicio"`
	DuracaoMinutos  int       `gorm:"column:duracao_minutos" json:"duracao_minutos"`
	TipoRecorrencia string    `gorm:"column:tipo_recorrencia" json:"tipo_recorrencia"`
	DiasSemana      string    `gorm:"column:dias_semana" json:"dias_semana"`
	Status          string    `gorm:"column:status" json:"status"`
	CriadoEm        time.Time `gorm:"column:criado_em" json:"criado_em"`
	AtualizadoEm    time.Time `gorm:"column:atualizado_em" json:"atualizado_em"`
}

func (ScheduledJob) TableName() string { return "agendamentos" }

// DiasSemanaList splits the stored comma-separated weekday tokens.
func (j *ScheduledJob) DiasSemanaList() []string {
	if strings.TrimSpace(j.DiasSemana) == "" {
		return nil
	}
	parts := strings.Split(j.DiasSemana, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Recurring reports whether the job re-arms after a completed run.
func (j *ScheduledJob) Recurring() bool {
	return j.TipoRecorrencia != "" && j.TipoRecorrencia != RecurrenceNone
}

// PostRunStatus is the status a job should hold once its recording window
// has ended: recurring jobs go back to agendado, one-shots complete.
func (j *ScheduledJob) PostRunStatus() string {
	if j.Recurring() {
		return JobAgendado
	}
	return JobConcluido
}

// Radio is the capture source; read-only for this subsystem.
type Radio struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	Nome         string `gorm:"column:nome" json:"nome"`
	StreamURL    string `gorm:"column:stream_url" json:"stream_url"`
	Cidade       string `gorm:"column:cidade" json:"cidade"`
	Estado       string `gorm:"column:estado" json:"estado"`
	BitrateKbps  int    `gorm:"column:bitrate_kbps" json:"bitrate_kbps"`
	OutputFormat string `gorm:"column:output_format" json:"output_format"`
	AudioMode    string `gorm:"column:audio_mode" json:"audio_mode"`
}

func (Radio) TableName() string { return "radios" }

// Clip is a keyword-extracted span of a completed recording.
type Clip struct {
	ID             string  `gorm:"column:id;primaryKey" json:"id"`
	GravacaoID     string  `gorm:"column:gravacao_id" json:"gravacao_id"`
	PalavraChave   string  `gorm:"column:palavra_chave" json:"palavra_chave"`
	InicioSegundos float64 `gorm:"column:inicio_segundos" json:"inicio_segundos"`
	FimSegundos    float64 `gorm:"column:fim_segundos" json:"fim_segundos"`
	ArquivoURL     string  `gorm:"column:arquivo_url" json:"arquivo_url"`
}

func (Clip) TableName() string { return "clips" }

// MinutesFor converts a duration in seconds to displayed minutes, never
// reporting zero for a non-empty capture.
func MinutesFor(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	m := (seconds + 30) / 60
	if m < 1 {
		m = 1
	}
	return m
}
