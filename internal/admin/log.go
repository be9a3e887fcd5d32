package admin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLogMax  = 100000
	defaultLogKeep = 50000
)

// LogEntry запись журнала администратора
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Command   CommandName            `json:"command"`
	Target    string                 `json:"target,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Override  bool                   `json:"override,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
}

// Archive получает вытесненные записи (Postgres)
type Archive interface {
	ArchiveAdminLog(ctx context.Context, entries []LogEntry) error
}

// Log журнал только для админов: при превышении max остаются keep последних
type Log struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
	keep    int
	archive Archive
	logger  *zap.Logger
}

func newLog(logger *zap.Logger) *Log {
	return &Log{max: defaultLogMax, keep: defaultLogKeep, logger: logger}
}

func (l *Log) Append(e LogEntry) LogEntry {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC()

	l.mu.Lock()
	l.entries = append(l.entries, e)
	var evicted []LogEntry
	if len(l.entries) > l.max {
		cut := len(l.entries) - l.keep
		evicted = l.entries[:cut]
		l.entries = append([]LogEntry(nil), l.entries[cut:]...)
	}
	l.mu.Unlock()

	if len(evicted) > 0 {
		l.logger.Info("admin log trimmed", zap.Int("evicted", len(evicted)), zap.Int("kept", l.keep))
		if l.archive != nil {
			go l.store(evicted)
		}
	}
	return e
}

func (l *Log) store(entries []LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.archive.ArchiveAdminLog(ctx, entries); err != nil {
		l.logger.Error("admin log archive failed", zap.Int("entries", len(entries)), zap.Error(err))
	}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Recent последние n записей, новые в конце
func (l *Log) Recent(n int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]LogEntry(nil), l.entries[len(l.entries)-n:]...)
}

// ForTarget записи по цели команды (клиент, агент, capability)
func (l *Log) ForTarget(target string) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []LogEntry
	for _, e := range l.entries {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}
