package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tbl := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "", want: zapcore.InfoLevel},
		{level: "nonsense", want: zapcore.InfoLevel},
	}

	for _, c := range tbl {
		t.Run(c.level, func(t *testing.T) {
			l, err := New(c.level)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(c.want))
			assert.False(t, l.Core().Enabled(c.want-1))
		})
	}
}
