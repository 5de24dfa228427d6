// Package storage persists download tasks, saved locations, daily
// statistics and key-value settings in a local SQLite database.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage wraps the gorm handle shared by every table in this package.
type Storage struct {
	DB *gorm.DB
}

// NewStorage opens (creating if needed) the SQLite database under dir
// and migrates every table this package owns.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, "falcon.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")

	if err := db.AutoMigrate(&DownloadTask{}, &DownloadLocation{}, &DailyStat{}, &AppSetting{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint, used before process shutdown so a
// crash can't lose committed writes sitting in the WAL file.
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// SaveTask upserts task by primary key.
func (s *Storage) SaveTask(task Task) error {
	return s.DB.Save(&task).Error
}

// GetTask loads a task by id.
func (s *Storage) GetTask(id string) (Task, error) {
	var task Task
	err := s.DB.First(&task, "id = ?", id).Error
	return task, err
}

// UpdateProgress partially updates a task's live counters without
// touching its other columns (options, headers, MetaJSON), unlike Save
// which would rewrite every field to its zero value if omitted.
func (s *Storage) UpdateProgress(id, status string, totalSize, downloaded int64, progress, speed float64) error {
	return s.DB.Model(&DownloadTask{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"total_size": totalSize,
		"downloaded": downloaded,
		"progress":   progress,
		"speed":      speed,
	}).Error
}

// UpdateMetaJSON partially updates just a task's serialized resume state.
func (s *Storage) UpdateMetaJSON(id, metaJSON string) error {
	return s.DB.Model(&DownloadTask{}).Where("id = ?", id).Update("meta_json", metaJSON).Error
}

// DeleteTask soft-deletes a task by id.
func (s *Storage) DeleteTask(id string) error {
	return s.DB.Delete(&Task{}, "id = ?", id).Error
}

// GetAllTasks returns every non-deleted task, newest first.
func (s *Storage) GetAllTasks() ([]Task, error) {
	var tasks []Task
	err := s.DB.Order("created_at desc").Find(&tasks).Error
	return tasks, err
}

// IncrementDailyBytes adds delta to today's byte counter.
func (s *Storage) IncrementDailyBytes(delta int64) error {
	return s.upsertDailyStat(func(stat *DailyStat) { stat.Bytes += delta })
}

// IncrementDailyFiles increments today's completed-file counter.
func (s *Storage) IncrementDailyFiles() error {
	return s.upsertDailyStat(func(stat *DailyStat) { stat.Files++ })
}

func (s *Storage) upsertDailyStat(mutate func(*DailyStat)) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var stat DailyStat
		err := tx.First(&stat, "date = ?", today).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			stat = DailyStat{Date: today}
		}
		mutate(&stat)
		return tx.Save(&stat).Error
	})
}

// GetTotalLifetime sums Bytes across every recorded day.
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalFiles sums Files across every recorded day.
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Row().Scan(&total)
	return total, err
}

// GetDailyHistory returns the last n days of stats, oldest first.
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(days).Find(&stats).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(stats)-1; i < j; i, j = i+1, j-1 {
		stats[i], stats[j] = stats[j], stats[i]
	}
	return stats, nil
}

// AddLocation upserts a saved download location by path.
func (s *Storage) AddLocation(path, nickname string) error {
	return s.DB.Save(&DownloadLocation{Path: path, Nickname: nickname}).Error
}

// GetLocations returns every saved location.
func (s *Storage) GetLocations() ([]DownloadLocation, error) {
	var locations []DownloadLocation
	err := s.DB.Find(&locations).Error
	return locations, err
}

// SetString stores a single string setting.
func (s *Storage) SetString(key, val string) error {
	return s.DB.Save(&AppSetting{Key: key, Value: val}).Error
}

// GetString retrieves a single string setting, "" if unset.
func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	return setting.Value, err
}

// SetStringList stores a JSON-encoded string list setting.
func (s *Storage) SetStringList(key string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("storage: marshal string list: %w", err)
	}
	return s.SetString(key, string(data))
}

// GetStringList retrieves a JSON-encoded string list setting, empty if
// unset.
func (s *Storage) GetStringList(key string) ([]string, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("storage: unmarshal string list: %w", err)
	}
	return list, nil
}
