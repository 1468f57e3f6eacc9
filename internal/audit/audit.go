// Package audit records security-relevant orchestration events: cache hits,
// strategy selections, and job outcomes. Events go to a dedicated structured
// log so they can be shipped independently of operational logs.
package audit

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/config"
)

// Recorder is the write-side contract the optimizer and queue depend on.
type Recorder interface {
	CacheHit(fingerprint, tool string)
	StrategySelected(jobID string, strategy schemas.Strategy, tool string)
	JobOutcome(jobID string, status schemas.JobStatus, kind schemas.FailureKind, message string)
}

// Log is the production Recorder backed by zap.
type Log struct {
	logger *zap.Logger
}

// New builds an audit log. With Enabled false every call is a no-op. When a
// file is configured, events bypass the console and go to a rotated JSON
// file; otherwise they piggyback on the provided application logger.
func New(cfg config.AuditConfig, appLogger *zap.Logger) *Log {
	if !cfg.Enabled {
		return &Log{logger: zap.NewNop()}
	}
	if cfg.LogFile == "" {
		return &Log{logger: appLogger.Named("audit")}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 10,
		Compress:   true,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, zap.InfoLevel)
	return &Log{logger: zap.New(core).Named("audit")}
}

func (l *Log) CacheHit(fingerprint, tool string) {
	l.logger.Info("cache hit",
		zap.String("event", "cache_hit"),
		zap.String("fingerprint", fingerprint),
		zap.String("tool", tool))
}

func (l *Log) StrategySelected(jobID string, strategy schemas.Strategy, tool string) {
	l.logger.Info("strategy selected",
		zap.String("event", "strategy_selected"),
		zap.String("job_id", jobID),
		zap.String("strategy", string(strategy)),
		zap.String("tool", tool))
}

func (l *Log) JobOutcome(jobID string, status schemas.JobStatus, kind schemas.FailureKind, message string) {
	fields := []zap.Field{
		zap.String("event", "job_outcome"),
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
	}
	if kind != "" {
		fields = append(fields, zap.String("failure_kind", string(kind)))
	}
	if message != "" {
		fields = append(fields, zap.String("message", message))
	}
	l.logger.Info("job outcome", fields...)
}

// MemoryRecorder captures audit events in memory for assertions in tests.
type MemoryRecorder struct {
	mu       sync.Mutex
	Hits     []string
	Selected []schemas.Strategy
	Outcomes map[string]schemas.JobStatus
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{Outcomes: make(map[string]schemas.JobStatus)}
}

func (m *MemoryRecorder) CacheHit(fingerprint, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hits = append(m.Hits, fingerprint)
}

func (m *MemoryRecorder) StrategySelected(jobID string, strategy schemas.Strategy, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Selected = append(m.Selected, strategy)
}

func (m *MemoryRecorder) JobOutcome(jobID string, status schemas.JobStatus, kind schemas.FailureKind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes[jobID] = status
}

// HitCount returns how many cache hits were recorded.
func (m *MemoryRecorder) HitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Hits)
}
