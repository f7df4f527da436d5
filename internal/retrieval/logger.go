package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxLoggedQuery caps the query text kept per entry; job descriptions can
// run to many kilobytes.
const MaxLoggedQuery = 512

// QueryLogEntry is one line of the query log.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Operation     string        `json:"operation"`
	Query         string        `json:"query"`
	QueryBytes    int           `json:"query_bytes"`
	NumCandidates int           `json:"num_candidates"`
	NumResults    int           `json:"num_results"`
	Duration      time.Duration `json:"-"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// QueryLogger appends JSON lines. It is safe for concurrent use.
type QueryLogger struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w), now: time.Now}
}

// NewFileQueryLogger appends to path and mirrors every entry to stdout.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	l := NewQueryLogger(io.MultiWriter(os.Stdout, f))
	l.closer = f
	return l, nil
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	entry.Timestamp = l.now().UTC()
	entry.LatencyMs = entry.Duration.Milliseconds()
	entry.QueryBytes = len(entry.Query)
	entry.Query = truncate(entry.Query, MaxLoggedQuery)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}

// Close releases the log file, if any.
func (l *QueryLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
