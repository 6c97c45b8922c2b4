// Package eventlog implements VoiceMode's append-only event and exchange
// streams plus conversation-id minting. It follows the teacher's
// single-writer-behind-a-bounded-channel idiom (see managed_stream.go's
// emit/event dispatch and cmd/agent/main.go's buffered event channel),
// repurposed from in-process event fan-out into durable daily-rotating
// JSONL files.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voicemode/voicemode-go/pkg/config"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

const conversationGap = 300 * time.Second

const schemaVersion = 1

type eventLine struct {
	SchemaVersion  int                    `json:"schema_version"`
	Timestamp      time.Time              `json:"timestamp"`
	ConversationID voicemode.ConversationID `json:"conversation_id"`
	Kind           string                 `json:"kind"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
}

type writeRequest struct {
	stream string // "events" | "exchanges"
	line   []byte
	day    string
}

// Log is the process-wide logger of events and exchange records. One Log
// owns one background writer goroutine; all public methods are safe for
// concurrent use.
type Log struct {
	paths  config.Paths
	logger voicemode.Logger

	mu             sync.Mutex
	currentConvID  voicemode.ConversationID
	lastEventAt    time.Time

	queue chan writeRequest
	done  chan struct{}
	once  sync.Once

	files map[string]*os.File // "events:2026-07-31" -> handle

	Stats *voicemode.StatsWindow
}

// New starts the background writer. Callers must call Close on shutdown to
// flush buffered writes.
func New(paths config.Paths, logger voicemode.Logger) *Log {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	l := &Log{
		paths: paths,
		logger: logger,
		queue:  make(chan writeRequest, 256),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		Stats:  voicemode.NewStatsWindow(1000),
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	for req := range l.queue {
		f, err := l.fileFor(req.stream, req.day)
		if err != nil {
			l.logger.Error("eventlog: failed to open %s file for %s: %v", req.stream, req.day, err)
			continue
		}
		if _, err := f.Write(req.line); err != nil {
			l.logger.Error("eventlog: failed write to %s: %v", req.stream, err)
		}
	}
	for _, f := range l.files {
		_ = f.Close()
	}
}

func (l *Log) fileFor(stream, day string) (*os.File, error) {
	key := stream + ":" + day
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	dir := l.paths.LogsEvents
	if stream == "exchanges" {
		dir = l.paths.LogsExchanges
	}
	path := filepath.Join(dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

// CurrentConversationID returns the active conversation id, minting a new
// one when the last logged event was ≥300s ago or none has ever been
// logged. This is the only source of truth for conversation ids: it shares
// mintOrReuseLocked with LogEvent so a caller that fetches the id and then
// logs an event is guaranteed to see the same id on both, rather than each
// independently re-checking the gap against a stale lastEventAt.
func (l *Log) CurrentConversationID() voicemode.ConversationID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mintOrReuseLocked(time.Now())
}

// mintOrReuseLocked returns the current conversation id, minting a new one
// if the gap condition holds, and always advances lastEventAt to now. l.mu
// must be held by the caller.
func (l *Log) mintOrReuseLocked(now time.Time) voicemode.ConversationID {
	if l.currentConvID == "" || now.Sub(l.lastEventAt) >= conversationGap {
		l.currentConvID = mintID(now)
	}
	l.lastEventAt = now
	return l.currentConvID
}

func mintID(now time.Time) voicemode.ConversationID {
	return voicemode.ConversationID(fmt.Sprintf("conv_%s_%s_%d",
		now.Format("20060102"), now.Format("150405"), now.UnixNano()%1000))
}

// LogEvent appends one non-blocking event line, tagging it with the current
// conversation id. A full queue drops the line with a logged warning rather
// than blocking the caller — matching spec's "never raised to the caller"
// invariant.
func (l *Log) LogEvent(kind string, fields map[string]interface{}) {
	now := time.Now()
	l.mu.Lock()
	convID := l.mintOrReuseLocked(now)
	l.mu.Unlock()

	line := eventLine{
		SchemaVersion:  schemaVersion,
		Timestamp:      now,
		ConversationID: convID,
		Kind:           kind,
		Fields:         fields,
	}
	b, err := json.Marshal(line)
	if err != nil {
		l.logger.Error("eventlog: marshal failed: %v", err)
		return
	}
	b = append(b, '\n')

	req := writeRequest{stream: "events", line: b, day: now.Format("2006-01-02")}
	select {
	case l.queue <- req:
	default:
		l.logger.Warn("eventlog: event queue full, dropping %s", kind)
	}
}

// AppendExchange persists a complete ExchangeRecord and updates the rolling
// stats window.
func (l *Log) AppendExchange(rec voicemode.ExchangeRecord) {
	rec.SchemaVersion = schemaVersion
	l.Stats.Add(rec)

	b, err := json.Marshal(rec)
	if err != nil {
		l.logger.Error("eventlog: exchange marshal failed: %v", err)
		return
	}
	b = append(b, '\n')

	req := writeRequest{stream: "exchanges", line: b, day: rec.StartedAt.Format("2006-01-02")}
	select {
	case l.queue <- req:
	default:
		l.logger.Warn("eventlog: exchange queue full, dropping record for %s", rec.ConversationID)
	}
}

// Close flushes and stops the background writer.
func (l *Log) Close() {
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
}
