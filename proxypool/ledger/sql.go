package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"proxyrotor/proxypool/model"
)

// outcomeRow 对应 session_outcomes 表。
type outcomeRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	ProxyKey        string    `gorm:"size:128;not null;index:idx_outcome_key_ts,priority:1"`
	Timestamp       time.Time `gorm:"not null;index;index:idx_outcome_key_ts,priority:2"`
	Success         bool      `gorm:"not null"`
	CaptchaSeverity string    `gorm:"size:16;not null;default:none"`
	ResponseTimeMs  int64     `gorm:"not null"`
	SessionID       string    `gorm:"size:64"`
	TargetCountry   string    `gorm:"size:8"`
	AmountTier      string    `gorm:"size:32"`
	Hour            int
}

func (outcomeRow) TableName() string { return "session_outcomes" }

// snapshotRow 对应反范式化的 quality_snapshots 表，用于趋势查询。
type snapshotRow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ProxyKey     string    `gorm:"size:128;not null;index:idx_snapshot_key_ts,priority:1"`
	Timestamp    time.Time `gorm:"not null;index;index:idx_snapshot_key_ts,priority:2"`
	QualityScore float64   `gorm:"not null"`
	QualityLevel string    `gorm:"size:16;not null"`
	SuccessRate  float64   `gorm:"not null"`
	CaptchaRate  float64   `gorm:"not null"`
	TotalUses    int64     `gorm:"not null"`
}

func (snapshotRow) TableName() string { return "quality_snapshots" }

// SQLStore is the embedded SQL ledger: GORM over a pure-Go SQLite driver.
type SQLStore struct {
	db     *gorm.DB
	closed atomic.Bool
}

// NewSQLStore opens or creates the SQLite database at path and migrates the schema.
func NewSQLStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// SQLite 只允许单写者
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&outcomeRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, o model.SessionOutcome) error {
	if s.closed.Load() {
		return ErrClosed
	}
	row := outcomeRow{
		ID:              o.ID,
		ProxyKey:        o.ProxyKey,
		Timestamp:       o.Timestamp.UTC(),
		Success:         o.Success,
		CaptchaSeverity: string(o.CaptchaSeverity),
		ResponseTimeMs:  o.ResponseTime.Milliseconds(),
		SessionID:       o.Context.SessionID,
		TargetCountry:   o.Context.TargetCountry,
		AmountTier:      o.Context.AmountTier,
		Hour:            o.Context.Hour,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) Query(ctx context.Context, since time.Time) ([]model.SessionOutcome, error) {
	return s.QueryProxy(ctx, "", since)
}

func (s *SQLStore) QueryProxy(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	q := s.db.WithContext(ctx).Where("timestamp > ?", since.UTC())
	if key != "" {
		q = q.Where("proxy_key = ?", key)
	}

	var rows []outcomeRow
	if err := q.Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.SessionOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.SessionOutcome{
			ID:              r.ID,
			ProxyKey:        r.ProxyKey,
			Timestamp:       r.Timestamp.UTC(),
			Success:         r.Success,
			CaptchaSeverity: model.ParseCaptchaSeverity(r.CaptchaSeverity),
			ResponseTime:    time.Duration(r.ResponseTimeMs) * time.Millisecond,
			Context: model.SessionContext{
				SessionID:     r.SessionID,
				TargetCountry: r.TargetCountry,
				AmountTier:    r.AmountTier,
				Hour:          r.Hour,
			},
		})
	}
	return out, nil
}

func (s *SQLStore) AppendSnapshots(ctx context.Context, snaps []model.QualitySnapshot) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(snaps) == 0 {
		return nil
	}
	rows := make([]snapshotRow, 0, len(snaps))
	for _, sn := range snaps {
		rows = append(rows, snapshotRow{
			ProxyKey:     sn.ProxyKey,
			Timestamp:    sn.Timestamp.UTC(),
			QualityScore: sn.QualityScore,
			QualityLevel: string(sn.QualityLevel),
			SuccessRate:  sn.SuccessRate,
			CaptchaRate:  sn.CaptchaRate,
			TotalUses:    sn.TotalUses,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func (s *SQLStore) QuerySnapshots(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	q := s.db.WithContext(ctx).Where("timestamp > ?", since.UTC())
	if key != "" {
		q = q.Where("proxy_key = ?", key)
	}

	var rows []snapshotRow
	if err := q.Order("timestamp asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.QualitySnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.QualitySnapshot{
			ProxyKey:     r.ProxyKey,
			Timestamp:    r.Timestamp.UTC(),
			QualityScore: r.QualityScore,
			QualityLevel: model.QualityLevel(r.QualityLevel),
			SuccessRate:  r.SuccessRate,
			CaptchaRate:  r.CaptchaRate,
			TotalUses:    r.TotalUses,
		})
	}
	return out, nil
}

func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff.UTC()).Delete(&outcomeRow{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Where("timestamp < ?", cutoff.UTC()).Delete(&snapshotRow{}).Error
	})
	return removed, err
}

func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
