package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ladder_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Well-known AppConfig keys.
const (
	KeyLadderFingerprint = "ladder_fingerprint"
	KeyMarket            = "market"
)

// Storage is the SQLite journal: an append-only transition log plus
// key/value runtime metadata. It is never read to rebuild engine state.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the journal database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("failed to resolve DB path: empty")
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Transition{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Transition Journal
// ======================================================================================

// Record appends one lifecycle transition.
func (s *Storage) Record(t domain.Transition) error {
	t.ID = 0
	return s.db.Create(&t).Error
}

// Transitions returns the most recent transitions, oldest first.
// A limit <= 0 returns the whole journal.
func (s *Storage) Transitions(limit int) ([]domain.Transition, error) {
	var rows []domain.Transition
	q := s.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// TransitionsForOrder returns every transition that touched one exchange order.
func (s *Storage) TransitionsForOrder(orderID string) ([]domain.Transition, error) {
	var rows []domain.Transition
	err := s.db.Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error
	return rows, err
}

// CountByKind returns how many transitions of one kind were recorded.
func (s *Storage) CountByKind(kind domain.TransitionKind) (int64, error) {
	var n int64
	err := s.db.Model(&domain.Transition{}).Where("kind = ?", kind).Count(&n).Error
	return n, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a runtime metadata value
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// GetConfig returns one value, or domain.ErrConfigNotFound.
func (s *Storage) GetConfig(key string) (string, error) {
	var cfg domain.AppConfig
	err := s.db.Where(&domain.AppConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("config %q: %w", key, domain.ErrConfigNotFound)
	}
	if err != nil {
		return "", err
	}
	return cfg.Value, nil
}

// LoadConfigMap loads all runtime metadata as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
