package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dytool/pkg/model"
)

type memStore struct {
	mu      sync.Mutex
	entries []model.HistoryEntry
	err     error
}

func (m *memStore) Add(_ context.Context, e model.HistoryEntry) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.entries = append(m.entries, e)
	return uint(len(m.entries)), nil
}

func TestDownloadCompletedRecorded(t *testing.T) {
	store := &memStore{}
	var forwarded []string
	h := New(Config{Store: store, Next: model.SinkFunc(func(e model.Event) { forwarded = append(forwarded, e.Name) })})

	sink := h.For(model.KindDownload, "https://v.test/a.mp4", "/tmp/a.mp4")
	sink.Emit(model.NewEvent(model.EventDownloadProgress, "s1", model.DownloadProgress{BytesReceived: 10}))
	sink.Emit(model.NewEvent(model.EventDownloadProgress, "s1", model.DownloadProgress{BytesReceived: 42}))
	sink.Emit(model.NewEvent(model.EventDownloadComplete, "s1", model.DownloadComplete{Success: true, Path: "/tmp/a.mp4"}))

	assert.Equal(t, []string{model.EventDownloadProgress, model.EventDownloadProgress, model.EventDownloadComplete}, forwarded)
	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.Equal(t, model.SessionID("s1"), e.Session)
	assert.Equal(t, model.KindDownload, e.Kind)
	assert.Equal(t, "completed", e.State)
	assert.Equal(t, int64(42), e.Bytes)
	assert.Equal(t, "/tmp/a.mp4", e.Path)
	assert.False(t, e.FinishedAt.Before(e.StartedAt.Truncate(1e6)))
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.SessionKind
		evt     model.Event
		state   string
		message string
	}{
		{"download error", model.KindDownload, model.NewEvent(model.EventDownloadError, "a", model.DownloadError{Kind: model.ErrHTTPStatus, Code: 404, Message: "HTTP错误: 404"}), "failed", "HTTP错误: 404"},
		{"download canceled", model.KindDownload, model.NewEvent(model.EventDownloadCanceled, "b", nil), "canceled", ""},
		{"parse ok", model.KindParse, model.NewEvent(model.EventParseResult, "c", model.ParseResult{Success: true, Data: []byte(`{}`)}), "completed", ""},
		{"parse failed", model.KindParse, model.NewEvent(model.EventParseResult, "d", model.ParseResult{Kind: model.ErrParse, Error: "Parse Error"}), "failed", "Parse Error"},
		{"parse canceled", model.KindParse, model.NewEvent(model.EventParseCanceled, "e", nil), "canceled", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			New(Config{Store: store}).For(tt.kind, "https://x.test", "").Emit(tt.evt)
			require.Len(t, store.entries, 1)
			assert.Equal(t, tt.state, store.entries[0].State)
			assert.Equal(t, tt.message, store.entries[0].Error)
		})
	}
}

func TestStoreFailureStillForwards(t *testing.T) {
	var got int
	h := New(Config{Store: &memStore{err: errors.New("disk full")}, Next: model.SinkFunc(func(model.Event) { got++ })})
	h.For(model.KindParse, "https://x.test", "").Emit(model.NewEvent(model.EventParseCanceled, "x", nil))
	assert.Equal(t, 1, got)
}

func TestNoStore(t *testing.T) {
	var got int
	h := New(Config{Next: model.SinkFunc(func(model.Event) { got++ })})
	h.For(model.KindDownload, "u", "p").Emit(model.NewEvent(model.EventDownloadCanceled, "x", nil))
	assert.Equal(t, 1, got)
}
