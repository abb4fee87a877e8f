package util

import (
	"testing"

	"github.com/reugn/go-quartz/logger"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQuartzLogger(t *testing.T) {

	assert := assert.New(t)

	core, logs := observer.New(zap.InfoLevel)
	l := NewQuartzLogger(zap.New(core))

	assert.False(l.Enabled(logger.LevelDebug))
	assert.True(l.Enabled(logger.LevelInfo))
	assert.True(l.Enabled(logger.LevelError))
	assert.False(l.Enabled(logger.LevelOff))

	l.Debugf("job %s added", "poll_readings")
	l.Infof("job %s added", "poll_readings")
	l.Error("scheduler stopped")

	entries := logs.All()
	if assert.Len(entries, 2) {
		assert.Equal("job poll_readings added", entries[0].Message)
		assert.Equal("scheduler stopped", entries[1].Message)
		assert.Equal("quartz", entries[1].ContextMap()["component"])
	}
}
