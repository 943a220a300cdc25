package logger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogBufferConcurrentAccess(t *testing.T) {
	buffer := NewLogBuffer(100)

	var wg sync.WaitGroup
	numGoroutines := 10
	logsPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < logsPerGoroutine; j++ {
				buffer.Add("info", fmt.Sprintf("log %d/%d", id, j), map[string]interface{}{"goroutine": id})
			}
		}(i)
	}

	go func() {
		for i := 0; i < 50; i++ {
			_ = buffer.GetRecentLogs(10)
		}
	}()

	wg.Wait()

	assert.Equal(t, uint64(numGoroutines*logsPerGoroutine), buffer.Total())
	assert.Len(t, buffer.GetRecentLogs(0), 100)
}

func TestLogBufferRecentOrder(t *testing.T) {
	buffer := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		buffer.Add("info", fmt.Sprintf("m%d", i), nil)
	}

	logs := buffer.GetRecentLogs(2)
	require.Len(t, logs, 2)
	assert.Equal(t, "m3", logs[0].Message)
	assert.Equal(t, "m4", logs[1].Message)

	all := buffer.GetRecentLogs(0)
	require.Len(t, all, 3)
	assert.Equal(t, "m2", all[0].Message)
}

func TestLogBufferAsZapCore(t *testing.T) {
	buffer := NewLogBuffer(10)
	sub := buffer.Subscribe(4)

	log := zap.New(buffer.Core(zapcore.DebugLevel))
	log.Info("scan finished", zap.Int("empty", 7))

	logs := buffer.GetRecentLogs(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "scan finished", logs[0].Message)
	assert.Equal(t, "info", logs[0].Level)
	assert.EqualValues(t, 7, logs[0].Fields["empty"])
	assert.False(t, logs[0].Timestamp.IsZero())

	got := <-sub
	assert.Equal(t, "scan finished", got.Message)
}

func TestNewLoggerWritesToExtraCore(t *testing.T) {
	buffer := NewLogBuffer(10)
	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "sweeper.log")
	cfg.Console = false

	l, err := New(cfg, buffer.Core(zapcore.InfoLevel))
	require.NoError(t, err)

	l.WithOperation("reclaim").Info("started")
	l.LogError("failed", fmt.Errorf("boom"))
	require.NoError(t, l.Sync())

	logs := buffer.GetRecentLogs(0)
	require.Len(t, logs, 2)
	assert.Equal(t, "reclaim", logs[0].Fields["operation"])
	assert.NotEmpty(t, logs[0].Fields["correlation_id"])
	assert.Equal(t, "boom", logs[1].Fields["error"])
}
