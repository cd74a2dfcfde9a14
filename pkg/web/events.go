package web

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/sitstraight/pkg/capture"
	"github.com/teslashibe/sitstraight/pkg/hub"
	"github.com/teslashibe/sitstraight/pkg/live"
	"github.com/teslashibe/sitstraight/pkg/posture"
	"github.com/teslashibe/sitstraight/pkg/protocol"
	"github.com/teslashibe/sitstraight/pkg/scoring"
)

const maxLogEntries = 500

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, score, warn, error
	Message string `json:"message"`
}

// Broadcaster is a live.Listener that pushes every controller event to
// websocket viewers and keeps a short activity log.
type Broadcaster struct {
	hub      *hub.Hub
	interval time.Duration
	logger   *slog.Logger

	// SessionID, if set, labels session_ended messages.
	SessionID func() string

	logsMu sync.RWMutex
	logs   []LogEntry
}

// NewBroadcaster creates a Broadcaster publishing on h. interval is the
// sampling period used for session summaries.
func NewBroadcaster(h *hub.Hub, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		hub:      h,
		interval: interval,
		logger:   logger.With("component", "web"),
		logs:     make([]LogEntry, 0, maxLogEntries),
	}
}

func (b *Broadcaster) LiveStatusChanged(active bool) {
	text := live.StatusText(active)
	b.AddLog("info", text)
	b.publish(protocol.NewLiveStatusMessage(active, text))
}

func (b *Broadcaster) StateChanged(from, to live.State) {
	b.publish(protocol.NewStateMessage(from.String(), to.String(), b.sessionID()))
}

func (b *Broadcaster) ScoreUpdated(u live.ScoreUpdate) {
	b.publish(protocol.NewScoreMessage(posture.Sample{
		Timestamp: u.Timestamp,
		Score:     u.Score,
		State:     u.State,
	}))
}

func (b *Broadcaster) SessionEnded(history []posture.Sample) {
	summary := posture.Summarize(history, b.interval)
	b.AddLog("info", sessionLine(summary))
	b.publish(protocol.NewSessionEndedMessage(b.sessionID(), history, b.interval))
}

func (b *Broadcaster) CaptureError(err error) {
	b.AddLog("error", "Camera: "+err.Error())
	b.publish(protocol.NewErrorMessage(protocol.TypeCaptureError, captureKind(err), err))
}

func (b *Broadcaster) ScoringDiagnostic(err error) {
	b.AddLog("warn", "Scoring: "+err.Error())
	b.publish(protocol.NewErrorMessage(protocol.TypeScoringDiagnostic, scoring.Kind(err), err))
}

// AddLog adds a log entry to the ring buffer
func (b *Broadcaster) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	b.logsMu.Lock()
	b.logs = append(b.logs, entry)
	if len(b.logs) > maxLogEntries {
		b.logs = b.logs[1:]
	}
	b.logsMu.Unlock()
}

// Logs returns a copy of the recent log entries, oldest first.
func (b *Broadcaster) Logs() []LogEntry {
	b.logsMu.RLock()
	defer b.logsMu.RUnlock()
	return append([]LogEntry(nil), b.logs...)
}

func (b *Broadcaster) publish(msg *protocol.Message, err error) {
	if err == nil {
		err = b.hub.BroadcastMessage(msg)
	}
	if err != nil {
		b.logger.Warn("failed to broadcast event", "error", err)
	}
}

func (b *Broadcaster) sessionID() string {
	if b.SessionID == nil {
		return ""
	}
	return b.SessionID()
}

func captureKind(err error) string {
	if k := capture.Kind(err); k != "" {
		return k
	}
	return "other"
}

func sessionLine(s posture.Summary) string {
	return fmt.Sprintf("Session ended: %d samples, %d aligned, mean %.0f",
		s.Samples, s.Counts[posture.Aligned.String()], s.MeanScore)
}
