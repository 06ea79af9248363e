// Package audit writes the per-request log: one structured line per
// completed tool call, in a daily-rotated file with bounded retention.
// The core never logs ambiently; it calls the RequestCompleted hook at
// the end of each request and this package does the rest.
package audit

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvLogDir overrides the log directory (default ~/.unblu-mcp/logs).
	EnvLogDir = "UNBLU_MCP_LOG_DIR"
	// EnvLogDisable disables file logging entirely ("1", "true", "yes").
	EnvLogDisable = "UNBLU_MCP_LOG_DISABLE"

	logFileName   = "unblu-mcp.log"
	retentionDays = 30
)

// Record describes one completed request.
type Record struct {
	RequestID   string
	Tool        string
	OperationID string
	Duration    time.Duration
	Outcome     string // "success" or the error kind tag
	Detail      string // error message, truncated upstream detail, ...
}

// Logger is the audit sink. A nil or disabled Logger swallows records.
type Logger struct {
	zl *zap.Logger
	w  *rotatingWriter
}

// Open creates the audit logger. dir "" falls back to EnvLogDir, then
// ~/.unblu-mcp/logs. When EnvLogDisable is set, a no-op logger is
// returned so callers never have to branch.
func Open(dir string) (*Logger, error) {
	if disabled(os.Getenv(EnvLogDisable)) {
		return &Logger{zl: zap.NewNop()}, nil
	}
	if dir == "" {
		dir = os.Getenv(EnvLogDir)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".unblu-mcp", "logs")
	}
	w, err := newRotatingWriter(dir)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zap.InfoLevel)
	return &Logger{zl: zap.New(core), w: w}, nil
}

func disabled(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Path returns the current log file path, or "" when disabled.
func (l *Logger) Path() string {
	if l == nil || l.w == nil {
		return ""
	}
	return l.w.path
}

// RequestCompleted records one finished tool call. A missing request
// id is filled in so every line is correlatable.
func (l *Logger) RequestCompleted(rec Record) {
	if l == nil {
		return
	}
	if rec.RequestID == "" {
		rec.RequestID = uuid.NewString()
	}
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("tool", rec.Tool),
		zap.Duration("duration", rec.Duration),
		zap.String("outcome", rec.Outcome),
	}
	if rec.OperationID != "" {
		fields = append(fields, zap.String("operation_id", rec.OperationID))
	}
	if rec.Detail != "" {
		fields = append(fields, zap.String("detail", rec.Detail))
	}
	l.zl.Info("request completed", fields...)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.zl.Sync() //nolint:errcheck
	if l.w != nil {
		return l.w.Close()
	}
	return nil
}
