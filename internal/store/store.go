// Package store is the persistence surface the orchestrator consumes.
// The relational schema is owned by the API layer; this package only
// reads and commits the records the core mutates.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

type Store struct {
	db *gorm.DB
}

// Open connects to postgres with the given DSN.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Recording(ctx context.Context, id string) (*domain.Recording, error) {
	var rec domain.Recording
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load recording %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

func (s *Store) SaveRecording(ctx context.Context, rec *domain.Recording) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("save recording %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Job(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *domain.ScheduledJob) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// JobsByStatus returns all scheduled jobs in the given status. Used at
// startup (agendado) and by the sweep (em_execucao).
func (s *Store) JobsByStatus(ctx context.Context, status string) ([]domain.ScheduledJob, error) {
	var jobs []domain.ScheduledJob
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs with status %s: %w", status, err)
	}
	return jobs, nil
}

func (s *Store) Radio(ctx context.Context, id string) (*domain.Radio, error) {
	var radio domain.Radio
	if err := s.db.WithContext(ctx).First(&radio, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load radio %s: %w", id, err)
	}
	return &radio, nil
}

func (s *Store) CreateClip(ctx context.Context, clip *domain.Clip) error {
	if err := s.db.WithContext(ctx).Create(clip).Error; err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	return nil
}
