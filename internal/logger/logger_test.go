package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSetLevelAfterFirstUse(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	Infof("warm up %d", 1)

	SetLevel("debug")
	assert.True(t, level.Enabled(zap.DebugLevel))
	assert.True(t, get().Desugar().Core().Enabled(zap.DebugLevel), "built core follows the level")

	SetLevel("info")
	assert.False(t, level.Enabled(zap.DebugLevel))
	assert.False(t, get().Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(t, level.Enabled(zap.InfoLevel))
}

func TestLogDurationDoesNotPanic(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })
	SetLevel("trace")
	DeferLogDuration("fast", time.Now())()
	LogDuration("slow", time.Now().Add(-time.Second))
}
