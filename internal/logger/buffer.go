package logger

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEntry represents a single log entry in the buffer
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogBuffer is a thread-safe ring buffer of recent log lines. It implements
// io.Writer for JSON encoded zap output so the TUI can render logs without
// touching stdout.
type LogBuffer struct {
	mu           sync.Mutex
	ringBuffer   []LogEntry
	maxSize      int
	currentIndex int
	wrapped      bool
	totalEntries uint64
	subscribers  []chan LogEntry
}

// NewLogBuffer creates a new log buffer with the specified size
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LogBuffer{
		ringBuffer: make([]LogEntry, maxSize),
		maxSize:    maxSize,
	}
}

// Core returns a zap core that writes into the buffer.
func (lb *LogBuffer) Core(level zapcore.LevelEnabler) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(lb), level)
}

// Write parses one or more JSON lines and stores them.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimSpace(p), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			lb.Add("info", string(line), nil)
			continue
		}
		entry := LogEntry{Fields: make(map[string]interface{})}
		for k, v := range raw {
			switch k {
			case "message":
				entry.Message, _ = v.(string)
			case "level":
				entry.Level, _ = v.(string)
			case "timestamp":
				if s, ok := v.(string); ok {
					entry.Timestamp, _ = time.Parse(time.RFC3339Nano, s)
				}
			default:
				entry.Fields[k] = v
			}
		}
		if len(entry.Fields) == 0 {
			entry.Fields = nil
		}
		lb.add(entry)
	}
	return len(p), nil
}

// Add adds a new log entry to the buffer
func (lb *LogBuffer) Add(level, message string, fields map[string]interface{}) {
	lb.add(LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Fields:    fields,
	})
}

func (lb *LogBuffer) add(entry LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.ringBuffer[lb.currentIndex] = entry
	lb.currentIndex = (lb.currentIndex + 1) % lb.maxSize
	if lb.currentIndex == 0 {
		lb.wrapped = true
	}
	lb.totalEntries++

	for _, ch := range lb.subscribers {
		select {
		case ch <- entry:
		default:
			// slow reader, drop
		}
	}
}

// Subscribe returns a channel receiving every new entry.
func (lb *LogBuffer) Subscribe(size int) <-chan LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ch := make(chan LogEntry, size)
	lb.subscribers = append(lb.subscribers, ch)
	return ch
}

// GetRecentLogs returns the most recent log entries (up to limit), oldest first
func (lb *LogBuffer) GetRecentLogs(limit int) []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	count := lb.currentIndex
	start := 0
	if lb.wrapped {
		count = lb.maxSize
		start = lb.currentIndex
	}
	if limit > 0 && limit < count {
		start = (start + count - limit) % lb.maxSize
		count = limit
	}

	logs := make([]LogEntry, 0, count)
	for i := 0; i < count; i++ {
		logs = append(logs, lb.ringBuffer[(start+i)%lb.maxSize])
	}
	return logs
}

// Total returns how many entries were ever written.
func (lb *LogBuffer) Total() uint64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.totalEntries
}
