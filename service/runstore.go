package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RunStore records every pipeline run for the admin API and retention job.
type RunStore interface {
	Save(ctx context.Context, run *model.Run) error
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, limit int) ([]*model.Run, error)
	// PurgeOlderThan deletes runs that finished before the cutoff and
	// returns how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewRunStore builds the store selected by configuration.
func NewRunStore(cfg *config.StoreConfig) (RunStore, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresRunStore(cfg.DSN)
	case "memory":
		return NewMemoryRunStore(cfg.MaxRuns), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// MemoryRunStore is a bounded in-memory store; oldest runs are evicted once
// the cap is exceeded.
type MemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]*model.Run
	maxRuns int // 0 = unlimited
}

func NewMemoryRunStore(maxRuns int) *MemoryRunStore {
	if maxRuns < 0 {
		maxRuns = 0
	}
	return &MemoryRunStore{
		runs:    make(map[string]*model.Run),
		maxRuns: maxRuns,
	}
}

func (s *MemoryRunStore) Save(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id], nil
}

func (s *MemoryRunStore) List(ctx context.Context, limit int) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryRunStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, r := range s.runs {
		if r.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed, nil
}

// cleanupIfNeeded removes oldest runs if the store exceeds maxRuns.
// Must be called with lock held.
func (s *MemoryRunStore) cleanupIfNeeded() {
	if s.maxRuns <= 0 || len(s.runs) <= s.maxRuns {
		return
	}

	runs := make([]*model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})

	removeCount := len(runs) - s.maxRuns
	for i := 0; i < removeCount; i++ {
		delete(s.runs, runs[i].ID)
	}
}

// Count returns the number of runs in the store.
func (s *MemoryRunStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// runRecord is the runs table row; jobs are stored JSON-encoded.
type runRecord struct {
	ID          string `gorm:"column:id;primaryKey;type:uuid"`
	CardID      string `gorm:"column:card_id;index"`
	CardTitle   string `gorm:"column:card_title"`
	Status      string `gorm:"column:status;type:varchar(20);index"`
	Jobs        string `gorm:"column:jobs;type:text"`
	PrimaryLink string `gorm:"column:primary_link"`
	ErrorMsg    string `gorm:"column:error_msg;type:text"`
	StartedAt   time.Time
	FinishedAt  time.Time `gorm:"index"`
}

func (runRecord) TableName() string {
	return "runs"
}

// PostgresRunStore persists runs via GORM.
type PostgresRunStore struct {
	db *gorm.DB
}

func NewPostgresRunStore(dsn string) (*PostgresRunStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect db failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrate runs table failed: %w", err)
	}

	return &PostgresRunStore{db: db}, nil
}

func (s *PostgresRunStore) Save(ctx context.Context, run *model.Run) error {
	record, err := toRecord(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(record).Error
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (*model.Run, error) {
	var record runRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&record)
}

func (s *PostgresRunStore) List(ctx context.Context, limit int) ([]*model.Run, error) {
	var records []runRecord
	tx := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}

	runs := make([]*model.Run, 0, len(records))
	for i := range records {
		run, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *PostgresRunStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("finished_at < ?", cutoff).Delete(&runRecord{})
	return result.RowsAffected, result.Error
}

func toRecord(run *model.Run) (*runRecord, error) {
	jobs, err := json.Marshal(run.Jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jobs: %w", err)
	}
	return &runRecord{
		ID:          run.ID,
		CardID:      run.CardID,
		CardTitle:   run.CardTitle,
		Status:      run.Status,
		Jobs:        string(jobs),
		PrimaryLink: run.PrimaryLink,
		ErrorMsg:    run.ErrorMsg,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}, nil
}

func fromRecord(record *runRecord) (*model.Run, error) {
	run := &model.Run{
		ID:          record.ID,
		CardID:      record.CardID,
		CardTitle:   record.CardTitle,
		Status:      record.Status,
		PrimaryLink: record.PrimaryLink,
		ErrorMsg:    record.ErrorMsg,
		StartedAt:   record.StartedAt,
		FinishedAt:  record.FinishedAt,
	}
	if record.Jobs != "" {
		if err := json.Unmarshal([]byte(record.Jobs), &run.Jobs); err != nil {
			return nil, fmt.Errorf("failed to decode jobs: %w", err)
		}
	}
	return run, nil
}
