package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

const maxLogEntries = 500

// LogEntry is one line a page or guest forwards to the host log.
type LogEntry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Pid       int            `json:"pid,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// LogStreamRequest is a batch of entries from one source.
type LogStreamRequest struct {
	Source  string     `json:"source" binding:"required"`
	Entries []LogEntry `json:"entries"`
}

// StreamLogs writes forwarded entries into the structured log.
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req LogStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, syserr.Wrap(syserr.InvalidArgument, "logs", "", err))
		return
	}
	if len(req.Entries) == 0 {
		fail(c, syserr.Errorf(syserr.InvalidArgument, "logs", "no log entries provided"))
		return
	}
	if len(req.Entries) > maxLogEntries {
		fail(c, syserr.Errorf(syserr.InvalidArgument, "logs", "at most %d entries per batch", maxLogEntries))
		return
	}

	logger := h.logger.Named(req.Source)
	for _, entry := range req.Entries {
		logEntry(logger.Logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries_received": len(req.Entries),
		"timestamp":        time.Now().Unix(),
	})
}

func logEntry(logger *zap.Logger, entry LogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	if entry.Pid != 0 {
		fields = append(fields, logging.Pid(entry.Pid))
	}
	if entry.Timestamp != "" {
		fields = append(fields, zap.String("remote_time", entry.Timestamp))
	}
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
