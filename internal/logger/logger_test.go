package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	l := New()
	require.NotNil(t, l.Log)

	require.NoError(t, l.Init("Debug"))
	assert.True(t, l.Log.Core().Enabled(zapcore.DebugLevel))
}

func TestInit_BadLevel(t *testing.T) {
	l := New()
	assert.Error(t, l.Init("loud"))
}
