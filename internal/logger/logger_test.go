package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")

	l.Info("开始下载", "url", "https://example.com/a.mp4", "bytes", 10)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "开始下载", m["message"])
	assert.Equal(t, "https://example.com/a.mp4", m["url"])
	assert.EqualValues(t, 10, m["bytes"])
}

func TestZeroLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Err(errors.New("boom"), "失败", "odd")
	out := buf.String()
	assert.True(t, strings.Contains(out, `"error":"boom"`), out)
	assert.True(t, strings.Contains(out, `"odd":"MISSING"`), out)
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("x", "k", "v")
	l.Err(errors.New("x"), "y")
}
