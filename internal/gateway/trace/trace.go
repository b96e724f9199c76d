// Package trace persists every event emitted for a session as JSON lines so
// operators can replay what a client saw.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/stream"
)

// Record is one persisted trace line.
type Record struct {
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger appends session-scoped records to <dir>/<session>.jsonl.
type Logger struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func DefaultDir() string {
	return filepath.Join("tmp", "session_logs")
}

func New(dir string, logger *zap.Logger) *Logger {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = DefaultDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{dir: trimmed, logger: logger, now: time.Now}
}

func (l *Logger) filePath(sessionID string) string {
	return filepath.Join(l.dir, sandbox.SafeName(strings.TrimSpace(sessionID))+".jsonl")
}

// Append writes one record. Write failures are logged and otherwise ignored.
func (l *Logger) Append(sessionID, source, stage string, fields map[string]any) {
	if l == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	rec := Record{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		SessionID: strings.TrimSpace(sessionID),
		Source:    source,
		Stage:     stage,
	}
	if len(fields) > 0 {
		rec.Fields = fields
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		l.logger.Debug("trace marshal failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.logger.Debug("trace dir unavailable", zap.String("dir", l.dir), zap.Error(err))
		return
	}
	f, err := os.OpenFile(l.filePath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Debug("trace open failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer f.Close()
	l.write(f, sessionID, raw)
}

func (l *Logger) write(w io.Writer, sessionID string, raw []byte) {
	if _, err := w.Write(raw); err != nil {
		l.logger.Debug("trace write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Observer returns a stream observer recording each event under sessionID.
func (l *Logger) Observer(sessionID string) func(stream.Event) {
	return func(ev stream.Event) {
		fields := map[string]any{}
		if ev.Message != "" {
			fields["message"] = ev.Message
		}
		if ev.RootPath != "" {
			fields["root_path"] = ev.RootPath
		}
		if ev.Modules != nil {
			fields["modules"] = ev.Modules
		}
		if ev.Data != nil {
			fields["results"] = len(ev.Data.Results)
		}
		l.Append(sessionID, "stream", string(ev.Type), fields)
	}
}

// Read returns every record persisted for sessionID, skipping malformed lines.
func (l *Logger) Read(sessionID string) ([]Record, error) {
	if l == nil {
		return nil, nil
	}
	f, err := os.Open(l.filePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	out := make([]Record, 0, 64)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trace file: %w", err)
	}
	return out, nil
}
