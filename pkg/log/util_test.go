package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time type", []any{"t", now}, []string{"t"}},
		{"duration", []any{"elapsed", 150 * time.Millisecond}, []string{"elapsed"}},
		{"bytes", []any{"data", []byte("xyz")}, []string{"data"}},
		{"string slice", []any{"topics", []string{"a/b", "c/d"}}, []string{"topics"}},
		{"error only", []any{err}, []string{"error"}},
		{"mixed field types", []any{"device", "spk-1", zap.String("x", "y"), "num", 42}, []string{"device", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			keys := make([]string, 0, len(fields))
			for _, f := range fields {
				assert.NotEmpty(t, f.Key)
				keys = append(keys, f.Key)
			}
			if tt.wantKeys == nil {
				assert.Empty(t, keys)
				return
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestSetLevelReachesChildren(t *testing.T) {
	l, err := build(&Options{Level: "info", Format: "json", OutputPaths: []string{"stderr"}})
	if !assert.NoError(t, err) {
		return
	}
	child := l.WithName("correlator").(*zapLogger)

	assert.False(t, child.core.Core().Enabled(zapcore.DebugLevel))
	l.level.SetLevel(zapcore.DebugLevel)
	assert.True(t, child.core.Core().Enabled(zapcore.DebugLevel))
}

func TestParseLevelFallback(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}
