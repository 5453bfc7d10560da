package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"homora/internal/models"
	"homora/internal/storage"
)

// Notifier delivers user-visible, non-blocking notices.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Log writes notices to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Success(msg string) {
	l.logger.Info("notice", zap.String("level", string(models.NoticeSuccess)), zap.String("message", msg))
}

func (l *Log) Error(msg string) {
	l.logger.Warn("notice", zap.String("level", string(models.NoticeError)), zap.String("message", msg))
}

// Store persists notices for one client session so they can be listed later.
type Store struct {
	notices   *storage.NoticeStore
	sessionID string
	logger    *zap.Logger
}

func NewStore(notices *storage.NoticeStore, sessionID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{notices: notices, sessionID: sessionID, logger: logger}
}

func (s *Store) Success(msg string) { s.record(models.NoticeSuccess, msg) }

func (s *Store) Error(msg string) { s.record(models.NoticeError, msg) }

func (s *Store) record(level models.NoticeLevel, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.notices.Record(ctx, s.sessionID, level, msg); err != nil {
		s.logger.Warn("record notice failed", zap.String("session", s.sessionID), zap.Error(err))
	}
}

// Multi fans a notice out to every wrapped notifier.
type Multi []Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []models.Notice
}

func (r *Recorder) Success(msg string) { r.add(models.NoticeSuccess, msg) }

func (r *Recorder) Error(msg string) { r.add(models.NoticeError, msg) }

func (r *Recorder) add(level models.NoticeLevel, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, models.Notice{
		ID:        int64(len(r.notices) + 1),
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now(),
	})
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []models.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notice(nil), r.notices...)
}

// Messages returns the recorded messages of one level, oldest first.
func (r *Recorder) Messages(level models.NoticeLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notices {
		if n.Level == level {
			out = append(out, n.Message)
		}
	}
	return out
}
