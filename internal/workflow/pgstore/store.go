// Package pgstore keeps workflow sessions in Postgres for deployments that
// run more than one rungov process.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/user/rungov/internal/types"
)

var errDBUnavailable = errors.New("session database unavailable")

// SessionModel is the workflow_sessions row.
type SessionModel struct {
	SessionID        string    `gorm:"type:uuid;primaryKey"`
	State            string    `gorm:"index;not null"`
	DesignRef        string    `gorm:"not null"`
	ContextRef       string
	FeasibilityRunID string    `gorm:"index"`
	ToolpathsRunID   string    `gorm:"index"`
	History          []byte    `gorm:"type:jsonb;not null"`
	Version          int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (SessionModel) TableName() string { return "workflow_sessions" }

// Store implements types.SessionStore on gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the sessions table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&SessionModel{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return New(gdb), nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(rec *types.SessionRecord) (*SessionModel, error) {
	history := rec.History
	if history == nil {
		history = []types.TransitionRecord{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return &SessionModel{
		SessionID:        string(rec.SessionID),
		State:            rec.State,
		DesignRef:        rec.DesignRef,
		ContextRef:       rec.ContextRef,
		FeasibilityRunID: string(rec.FeasibilityRunID),
		ToolpathsRunID:   string(rec.ToolpathsRunID),
		History:          raw,
		Version:          rec.Version,
		CreatedAt:        rec.CreatedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
	}, nil
}

func fromModel(m *SessionModel) (*types.SessionRecord, error) {
	var history []types.TransitionRecord
	if err := json.Unmarshal(m.History, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history of %s: %w", m.SessionID, err)
	}
	return &types.SessionRecord{
		SessionID:        types.SessionID(m.SessionID),
		State:            m.State,
		DesignRef:        m.DesignRef,
		ContextRef:       m.ContextRef,
		FeasibilityRunID: types.RunID(m.FeasibilityRunID),
		ToolpathsRunID:   types.RunID(m.ToolpathsRunID),
		History:          history,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) Create(ctx context.Context, rec *types.SessionRecord) error {
	if s.db == nil {
		return errDBUnavailable
	}
	rec.Version = 1
	model, err := toModel(rec)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return fmt.Errorf("insert session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", rec.SessionID, types.ErrDuplicateID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id types.SessionID) (*types.SessionRecord, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model SessionModel
	err := s.db.WithContext(ctx).Where("session_id = ?", string(id)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return fromModel(&model)
}

// Save updates the row only if its version still equals rec.Version.
func (s *Store) Save(ctx context.Context, rec *types.SessionRecord) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model, err := toModel(rec)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("session_id = ? AND version = ?", model.SessionID, rec.Version).
		Updates(map[string]any{
			"state":              model.State,
			"design_ref":         model.DesignRef,
			"context_ref":        model.ContextRef,
			"feasibility_run_id": model.FeasibilityRunID,
			"toolpaths_run_id":   model.ToolpathsRunID,
			"history":            model.History,
			"version":            rec.Version + 1,
			"updated_at":         model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, rec.SessionID); err != nil {
			return err
		}
		return fmt.Errorf("session %s at version %d: %w", rec.SessionID, rec.Version, types.ErrConflict)
	}
	rec.Version++
	return nil
}

func (s *Store) List(ctx context.Context) ([]*types.SessionRecord, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var models []SessionModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*types.SessionRecord, 0, len(models))
	for i := range models {
		rec, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ types.SessionStore = (*Store)(nil)
