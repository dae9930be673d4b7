// Structured log entry helpers layered on top of logrus.
package logger

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FormatTimestamp formats a time.Time at millisecond precision,
// matching the manager's own log timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000")
}

// NowFormatted is FormatTimestamp(time.Now()).
func NowFormatted() string {
	return FormatTimestamp(time.Now())
}

// LogType distinguishes the broad category of a structured log record.
type LogType string

const (
	AccessLog LogType = "access" // the optional status HTTP server
	SystemLog LogType = "system" // orchestrator/monitor lifecycle events
	ScanLog   LogType = "scan"   // per-shard/per-probe scan events
)

// AccessLogEntry is one request/response record from the optional
// status HTTP server (spec.md §4.7 "Optional status HTTP server").
type AccessLogEntry struct {
	Method       string
	Path         string
	StatusCode   int
	ResponseTime int64
	ClientIP     string
}

// LogAccessRequest records one request handled by the status server.
func LogAccessRequest(c *gin.Context, startTime time.Time) {
	if LoggerInstance == nil {
		return
	}
	entry := AccessLogEntry{
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		StatusCode:   c.Writer.Status(),
		ResponseTime: time.Since(startTime).Milliseconds(),
		ClientIP:     clientIP(c.Request),
	}
	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":          AccessLog,
		"method":        entry.Method,
		"path":          entry.Path,
		"status_code":   entry.StatusCode,
		"response_time": entry.ResponseTime,
		"client_ip":     entry.ClientIP,
	}).Info("status server request")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// LogSystemEvent records an orchestrator/monitor lifecycle event
// (startup, shard completion, cooldown start, shutdown).
func LogSystemEvent(component, event, message string, level LogLevel, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}
	fields := logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	entryMsg := fmt.Sprintf("%s: %s", component, event)
	if message != "" {
		entryMsg = fmt.Sprintf("%s - %s", entryMsg, message)
	}
	logAt(level, fields, entryMsg)
}

// LogScanEvent records a per-shard or per-probe scan event (shard
// start/done, sender completion, receiver cooldown entry).
func LogScanEvent(shardID int, probeModule, event, status string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}
	fields := logrus.Fields{
		"type":         ScanLog,
		"shard_id":     shardID,
		"probe_module": probeModule,
		"event":        event,
		"status":       status,
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	msg := fmt.Sprintf("shard %d (%s): %s %s", shardID, probeModule, event, status)
	if status == "failed" {
		LoggerInstance.logger.WithFields(fields).Error(msg)
		return
	}
	LoggerInstance.logger.WithFields(fields).Info(msg)
}

// LogLevel mirrors logrus.Level without forcing callers outside this
// package to import logrus directly.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func logAt(level LogLevel, fields logrus.Fields, msg string) {
	entry := LoggerInstance.logger.WithFields(fields)
	switch toLogrusLevel(level) {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	default:
		entry.Info(msg)
	}
}
