// Package persistence is the audit-log collaborator behind the provider
// pipeline: every attempt is written to api_calls, every successful
// attempt's usage counters to token_usage, and old rows are rotated by
// age, count, and size.
package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/config"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/pipeline"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/persistence/models"
)

// NewDBConnection opens the sqlite audit database at cfg.Path and migrates
// the api_calls/token_usage schema.
func NewDBConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&models.APICallModel{}, &models.TokenUsageModel{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return db, nil
}

// AuditStore persists pipeline.AuditRecord rows and enforces the
// rotation knobs (age, count, size), VACUUMing after deletions.
type AuditStore struct {
	db     *gorm.DB
	path   string
	cfg    config.DatabaseConfig
	logger *zap.Logger
}

var _ pipeline.AuditLogger = (*AuditStore)(nil)

// NewAuditStore wraps an open *gorm.DB as a pipeline.AuditLogger.
func NewAuditStore(db *gorm.DB, path string, cfg config.DatabaseConfig, logger *zap.Logger) *AuditStore {
	return &AuditStore{db: db, path: path, cfg: cfg, logger: logger}
}

// LogCall writes one api_calls row, plus a token_usage row when the
// attempt carried non-zero usage counters (i.e. it succeeded).
func (s *AuditStore) LogCall(ctx context.Context, rec pipeline.AuditRecord) error {
	row := models.APICallModel{
		Timestamp:    time.Now().UTC(),
		SessionID:    rec.SessionID,
		APIBaseURL:   rec.APIBaseURL,
		RequestJSON:  rec.RequestJSON,
		HeadersJSON:  rec.HeadersJSON,
		ResponseJSON: rec.ResponseJSON,
		Model:        rec.Model,
		Status:       rec.Status,
		HTTPStatus:   rec.HTTPStatus,
		ErrorMessage: rec.ErrorMessage,
		DurationMS:   rec.DurationMS,
		ToolCount:    rec.ToolCount,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert api_calls: %w", err)
	}

	u := rec.Usage
	if u.PromptTokens != 0 || u.CompletionTokens != 0 || u.TotalTokens != 0 {
		usage := models.TokenUsageModel{
			APICallID:             row.ID,
			SessionID:             rec.SessionID,
			PromptTokens:          u.PromptTokens,
			CompletionTokens:      u.CompletionTokens,
			TotalTokens:           u.TotalTokens,
			CachedTokens:          u.CachedTokens,
			PromptCacheHitTokens:  u.PromptCacheHitTokens,
			PromptCacheMissTokens: u.PromptCacheMissTokens,
			CreatedAt:             time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&usage).Error; err != nil {
			return fmt.Errorf("insert token_usage: %w", err)
		}
	}

	return nil
}

// Rotate trims api_calls/token_usage by age, by count, and by on-disk
// size, VACUUMing afterward if anything was deleted.
func (s *AuditStore) Rotate(ctx context.Context) error {
	deleted := false

	if s.cfg.MaxDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.MaxDays)
		res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.APICallModel{})
		if res.Error != nil {
			return fmt.Errorf("rotate by age: %w", res.Error)
		}
		deleted = deleted || res.RowsAffected > 0
	}

	if s.cfg.MaxRecords > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.APICallModel{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count api_calls: %w", err)
		}
		if count > int64(s.cfg.MaxRecords) {
			excess := count - int64(s.cfg.MaxRecords)
			var ids []uint
			if err := s.db.WithContext(ctx).Model(&models.APICallModel{}).
				Order("created_at asc").Limit(int(excess)).Pluck("id", &ids).Error; err != nil {
				return fmt.Errorf("select excess rows: %w", err)
			}
			if len(ids) > 0 {
				if err := s.db.WithContext(ctx).Delete(&models.APICallModel{}, ids).Error; err != nil {
					return fmt.Errorf("rotate by count: %w", err)
				}
				deleted = true
			}
		}
	}

	if s.cfg.MaxSizeMB > 0 {
		if info, err := os.Stat(s.path); err == nil && info.Size() > int64(s.cfg.MaxSizeMB)*1024*1024 {
			// Trim the oldest 10% of rows; a subsequent rotation pass
			// re-checks size after VACUUM reclaims the freed pages.
			var count int64
			_ = s.db.WithContext(ctx).Model(&models.APICallModel{}).Count(&count).Error
			if trim := count / 10; trim > 0 {
				var ids []uint
				if err := s.db.WithContext(ctx).Model(&models.APICallModel{}).
					Order("created_at asc").Limit(int(trim)).Pluck("id", &ids).Error; err == nil && len(ids) > 0 {
					if err := s.db.WithContext(ctx).Delete(&models.APICallModel{}, ids).Error; err == nil {
						deleted = true
					}
				}
			}
		}
	}

	if deleted {
		// token_usage rows belong to api_calls rows; drop those whose
		// api_calls row was trimmed above.
		if err := s.db.WithContext(ctx).Exec("DELETE FROM token_usage WHERE api_call_id NOT IN (SELECT id FROM api_calls)").Error; err != nil {
			return fmt.Errorf("rotate token_usage: %w", err)
		}
		s.db.WithContext(ctx).Exec("VACUUM")
		if s.logger != nil {
			s.logger.Info("audit db rotated", zap.String("path", s.path))
		}
	}
	return nil
}
