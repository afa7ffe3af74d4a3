package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paltrust/feedback/internal/api"
	"github.com/paltrust/feedback/internal/services"
)

type settingsRow struct {
	ID        int            `gorm:"column:id;primaryKey;autoIncrement:false"`
	Document  datatypes.JSON `gorm:"column:document;type:jsonb;not null"`
	Version   int64          `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (settingsRow) TableName() string { return "app_settings" }

type responseRow struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Rating     int            `gorm:"column:rating;not null;index"`
	Comment    string         `gorm:"column:comment;not null;default:''"`
	AllAnswers datatypes.JSON `gorm:"column:all_answers;type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;index"`
}

func (responseRow) TableName() string { return "survey_responses" }

// PostgresStore keeps the same two tables as the SQLite store, with JSON
// columns stored as jsonb.
type PostgresStore struct {
	db *gorm.DB
}

var _ api.Store = (*PostgresStore)(nil)

// OpenPostgres connects with gorm and creates the tables when missing.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres driver")
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: NewGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := gdb.AutoMigrate(&settingsRow{}, &responseRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return NewPostgresStore(gdb), nil
}

func NewPostgresStore(gdb *gorm.DB) *PostgresStore { return &PostgresStore{db: gdb} }

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) GetSettings(ctx context.Context) (*services.SettingsDocument, error) {
	var row settingsRow
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return fromSettingsRow(row)
}

func (s *PostgresStore) PutSettings(ctx context.Context, doc *services.SettingsDocument, expectedVersion int64) error {
	row, err := toSettingsRow(doc)
	if err != nil {
		return err
	}
	var result *gorm.DB
	if expectedVersion == 0 {
		result = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	} else {
		result = s.db.WithContext(ctx).Model(&settingsRow{}).
			Where("id = ? AND version = ?", row.ID, expectedVersion).
			Updates(map[string]any{"document": row.Document, "version": row.Version, "updated_at": row.UpdatedAt})
	}
	if result.Error != nil {
		return fmt.Errorf("save settings: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return services.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) InsertResponse(ctx context.Context, r *services.SurveyResponse) error {
	row, err := toResponseRow(r)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResponses(ctx context.Context) ([]*services.SurveyResponse, error) {
	var rows []responseRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	out := make([]*services.SurveyResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromResponseRow(row))
	}
	return out, nil
}

func toSettingsRow(doc *services.SettingsDocument) (settingsRow, error) {
	if doc == nil {
		return settingsRow{}, errors.New("settings document required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return settingsRow{}, fmt.Errorf("encode settings: %w", err)
	}
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return settingsRow{ID: 1, Document: datatypes.JSON(raw), Version: doc.Version, UpdatedAt: updated.UTC()}, nil
}

func fromSettingsRow(row settingsRow) (*services.SettingsDocument, error) {
	doc, err := decodeSettings(row.Document)
	if err != nil {
		return nil, err
	}
	doc.Version = row.Version
	doc.UpdatedAt = row.UpdatedAt.UTC()
	return doc, nil
}

func toResponseRow(r *services.SurveyResponse) (responseRow, error) {
	if r == nil {
		return responseRow{}, errors.New("response required")
	}
	answers, err := encodeAnswers(r.AllAnswers)
	if err != nil {
		return responseRow{}, err
	}
	return responseRow{
		ID:         r.ID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		AllAnswers: datatypes.JSON(answers),
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

func fromResponseRow(row responseRow) *services.SurveyResponse {
	return &services.SurveyResponse{
		ID:         row.ID,
		Rating:     row.Rating,
		Comment:    row.Comment,
		AllAnswers: decodeAnswers(row.AllAnswers),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}
