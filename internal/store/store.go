// Package store is the client-local sqlite persistence: the resume key for
// the last-active session, a mirrored session directory, and bounded session
// logs. Reconciled conversation state is deliberately not persisted.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

const lastSessionKey = "last_session_id"

type Store struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	s := &Store{db: gdb, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        fmt.Sprintf("file:drmirror_mem_%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	s := &Store{db: gdb, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(&KV{}, &SessionEntry{}, &SessionLog{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveLastSession records the resume key, written on every session open.
func (s *Store) SaveLastSession(sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	row := KV{Key: lastSessionKey, Value: sessionID, UpdatedAt: s.nowFunc().UTC().Unix()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) LastSession() (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store is not initialized")
	}
	var row KV
	err := s.db.Where("key = ?", lastSessionKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *Store) ClearLastSession() error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.db.Where("key = ?", lastSessionKey).Delete(&KV{}).Error
}

// MirrorStatus upserts a session's last-known status into the local
// directory. Satisfies session.StatusMirror.
func (s *Store) MirrorStatus(sessionID string, status string) {
	if s == nil || s.db == nil || sessionID == "" {
		return
	}
	row := SessionEntry{
		SessionID:  sessionID,
		Status:     status,
		LastSeenAt: s.nowFunc().UTC().Unix(),
	}
	_ = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen_at"}),
	}).Create(&row).Error
}

// UpsertSession refreshes the directory entry from backend metadata.
func (s *Store) UpsertSession(sessionID, projectID, projectName, status string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	row := SessionEntry{
		SessionID:   sessionID,
		ProjectID:   projectID,
		ProjectName: projectName,
		Status:      status,
		LastSeenAt:  s.nowFunc().UTC().Unix(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"project_id", "project_name", "status", "last_seen_at"}),
	}).Create(&row).Error
}

func (s *Store) ListSessions(limit int) ([]SessionEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows := make([]SessionEntry, 0, limit)
	if err := s.db.Order("last_seen_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteSession drops the directory entry and, when the resume key names the
// deleted session, clears that too so a bare watch cannot resume it.
func (s *Store) DeleteSession(sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if err := s.db.Where("session_id = ?", sessionID).Delete(&SessionEntry{}).Error; err != nil {
		return err
	}
	last, err := s.LastSession()
	if err != nil {
		return err
	}
	if last == sessionID {
		return s.ClearLastSession()
	}
	return nil
}

// AppendLog persists one session log line and prunes the oldest rows past
// keep.
func (s *Store) AppendLog(sessionID, level, message string, keep int) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	row := SessionLog{
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		CreatedAt: s.nowFunc().UTC().Unix(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	return s.db.Exec(`DELETE FROM session_logs WHERE session_id = ? AND id NOT IN (
		SELECT id FROM session_logs WHERE session_id = ? ORDER BY id DESC LIMIT ?
	)`, sessionID, sessionID, keep).Error
}

func (s *Store) Logs(sessionID string, limit int) ([]SessionLog, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	rows := make([]SessionLog, 0, limit)
	if err := s.db.Where("session_id = ?", sessionID).
		Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	// Oldest first for display.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
