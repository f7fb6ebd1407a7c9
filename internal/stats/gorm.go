package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserStats is one account's counter row.
type UserStats struct {
	UserID       string `gorm:"primaryKey;size:64"`
	GamesPlayed  int64  `gorm:"not null;default:0"`
	GamesWon     int64  `gorm:"not null;default:0"`
	RoomsCreated int64  `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// GormStore keeps counters in a SQL table through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the counters table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&UserStats{}); err != nil {
		return nil, fmt.Errorf("failed to migrate user_stats: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenPostgres connects to the stats database, retrying while it starts.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	const maxRetries = 3
	const retryInterval = 5 * time.Second

	var err error
	for i := 0; i <= maxRetries; i++ {
		var db *gorm.DB
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			return db, nil
		}
		logger.Error("stats database connection failed", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("failed to connect to stats database: %w", err)
}

// Increment adds delta to counter, creating the row on first use.
func (s *GormStore) Increment(ctx context.Context, userID string, counter Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}

	row := UserStats{UserID: userID}
	switch counter {
	case GamesPlayed:
		row.GamesPlayed = delta
	case GamesWon:
		row.GamesWon = delta
	case RoomsCreated:
		row.RoomsCreated = delta
	}

	column := string(counter)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr("user_stats."+column+" + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to increment %s for %s: %w", counter, userID, err)
	}
	return nil
}

// Get returns the counters of one account.
func (s *GormStore) Get(ctx context.Context, userID string) (UserStats, error) {
	var row UserStats
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	return row, err
}
