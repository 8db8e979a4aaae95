package controller

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// logRingCapacity is the number of entries kept for the operator log view.
const logRingCapacity = 100

// LogEntry is one user-visible log line.
type LogEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp string    `json:"timestamp"` // ISO 8601
	Level     string    `json:"level"`     // INFO, WARNING or ERROR
	Message   string    `json:"message"`
}

// LogRing keeps the last `logRingCapacity` user-visible events in memory,
// dropping the oldest. Entries also go to the structured logger.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewLogRing() *LogRing {
	return &LogRing{}
}

// Add appends a formatted entry to the ring.
func (r *LogRing) Add(level, format string, args ...any) {
	message := fmt.Sprintf(format, args...)

	switch level {
	case "ERROR":
		slog.Error(message)
	case "WARNING":
		slog.Warn(message)
	default:
		slog.Info(message)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, LogEntry{
		ID:        uuid.New(),
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
	})
	if len(r.entries) > logRingCapacity {
		r.entries = r.entries[len(r.entries)-logRingCapacity:]
	}
}

// Entries returns a copy of the current ring contents, oldest first.
func (r *LogRing) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
