package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNop_NamedReturnsNewScopedStub(t *testing.T) {
	root := Nop("")
	child := root.Named("x")

	require.NotNil(t, child)
	assert.Equal(t, "x", child.Category())
	assert.Equal(t, "", root.Category(), "narrowing must not mutate the parent")
	assert.NotSame(t, root.(*nopLogger), child.(*nopLogger))
	assert.True(t, IsNop(child))

	grandchild := child.Named("y")
	assert.Equal(t, "x.y", grandchild.Category())
	assert.Equal(t, "x", child.Category())
}

func TestNop_OperationsHaveNoEffect(t *testing.T) {
	l := Nop("bootstrap").Named("x")

	assert.NotPanics(t, func() {
		l.Log(ErrorLevel, "boom", "key", "value")
		l.Debugw("debug")
		l.Infow("info", "a", 1)
		l.Warnw("warn")
		l.Errorw("error", "err", assert.AnError)
		_ = l.With("k", "v")
	})

	for _, lvl := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		assert.False(t, l.Enabled(lvl))
	}
	assert.NoError(t, l.Sync())
	assert.Equal(t, "bootstrap.x", l.Category())
}

func TestZap_NamedComposesCategories(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZap(zap.New(core))

	child := l.Named("bootstrap").Named("migrations")
	assert.Equal(t, "bootstrap.migrations", child.Category())

	child.Infow("applied", "name", "m1")
	child.Log(WarnLevel, "slow", "ms", 12)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bootstrap.migrations", entries[0].LoggerName)
	assert.Equal(t, "m1", entries[0].ContextMap()["name"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestZap_Enabled(t *testing.T) {
	core, _ := observer.New(zapcore.WarnLevel)
	l := NewZap(zap.New(core))

	assert.False(t, l.Enabled(InfoLevel))
	assert.True(t, l.Enabled(ErrorLevel))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantErr bool
	}{
		{"", InfoLevel, false},
		{"debug", DebugLevel, false},
		{"WARN", WarnLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_WritesToOutputAndFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "stageboot.log")

	l, closer, err := New(Options{Level: "debug", Format: "json", File: logFile, Output: &buf})
	require.NoError(t, err)

	l.Named("test").Infow("hello", "k", "v")
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"test"`)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestInit_OnlyOnce(t *testing.T) {
	t.Cleanup(func() { _ = Teardown() })

	assert.True(t, IsNop(L()), "L() must fall back to the stub before Init")

	var buf bytes.Buffer
	first, err := Init(Options{Output: &buf})
	require.NoError(t, err)
	assert.Same(t, first, L())

	_, err = Init(Options{Output: &buf})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, Teardown())
	assert.True(t, IsNop(L()))

	second, err := Init(Options{Output: &buf})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestInit_FailureAllowsRetry(t *testing.T) {
	t.Cleanup(func() { _ = Teardown() })

	_, err := Init(Options{Level: "nope"})
	require.Error(t, err)

	_, err = Init(Options{Output: &bytes.Buffer{}})
	assert.NoError(t, err)
}

func TestTeardown_WithoutInit(t *testing.T) {
	assert.NoError(t, Teardown())
	assert.NoError(t, Teardown())
}
