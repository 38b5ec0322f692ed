package logger

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// ProgressTracker reports the progress of batched work such as row inserts.
// Add may be called from concurrent workers.
type ProgressTracker struct {
	logger      Logger
	total       int64
	done        atomic.Int64
	start       time.Time
	lastLog     atomic.Int64
	logInterval time.Duration
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation string
	// Total is the expected amount of work; zero when unknown.
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a tracker and logs the start of the operation.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.LogInterval <= 0 {
		config.LogInterval = 5 * time.Second
	}

	p := &ProgressTracker{
		logger:      OrGlobal(config.Logger).WithField("operation", config.Operation),
		total:       config.Total,
		start:       time.Now(),
		logInterval: config.LogInterval,
	}
	p.lastLog.Store(p.start.UnixNano())
	p.logger.WithField("total", config.Total).Debug("Starting operation")
	return p
}

// Add records delta units of finished work. At most one progress line is
// logged per interval, whichever worker crosses it first.
func (p *ProgressTracker) Add(delta int64) {
	done := p.done.Add(delta)

	now := time.Now().UnixNano()
	last := p.lastLog.Load()
	if time.Duration(now-last) < p.logInterval || !p.lastLog.CAS(last, now) {
		return
	}

	fields := Fields{"processed": done, "rate": p.rate(done)}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(done)/float64(p.total)*100)
	}
	p.logger.WithFields(fields).Info("Progress update")
}

// Done returns the work recorded so far.
func (p *ProgressTracker) Done() int64 {
	return p.done.Load()
}

func (p *ProgressTracker) rate(done int64) string {
	elapsed := time.Since(p.start).Seconds()
	if elapsed <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f/sec", float64(done)/elapsed)
}

func (p *ProgressTracker) summary() Fields {
	done := p.done.Load()
	return Fields{
		"total":     p.total,
		"processed": done,
		"duration":  time.Since(p.start).String(),
		"rate":      p.rate(done),
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.logger.WithFields(p.summary()).Info("Operation completed")
}

// CompleteWithError logs final statistics together with the failure
func (p *ProgressTracker) CompleteWithError(err error) {
	p.logger.WithError(err).WithFields(p.summary()).Error("Operation completed with error")
}

// OperationLogger logs the steps of one ingestion or consolidation run with
// shared fields and timing.
type OperationLogger struct {
	logger Logger
	start  time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, log Logger) *OperationLogger {
	ol := &OperationLogger{
		logger: OrGlobal(log).WithField("operation", operation),
		start:  time.Now(),
	}
	ol.logger.Debug("Starting operation")
	return ol
}

// WithField adds a field to every later line of the operation.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.logger = ol.logger.WithField(key, value)
	return ol
}

// WithFields adds fields to every later line of the operation.
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	ol.logger = ol.logger.WithFields(fields)
	return ol
}

// Step logs the start of a named stage.
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithField("step", step).Info("Operation step")
}

// Success logs completion with the elapsed time.
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(Fields{
		"duration": ol.Elapsed().String(),
		"status":   "success",
	}).Info(message)
}

// Error logs failure with the elapsed time.
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": ol.Elapsed().String(),
		"status":   "error",
	}).Error(message)
}

// Warning logs a problem that did not stop the operation.
func (ol *OperationLogger) Warning(message string) {
	ol.logger.WithField("duration", ol.Elapsed().String()).Warn(message)
}

// Elapsed returns the time since the operation started.
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.start)
}

// TimedOperation runs fn and logs its outcome and duration.
func TimedOperation(operation string, log Logger, fn func() error) error {
	ol := NewOperationLogger(operation, log)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed")
	return nil
}
