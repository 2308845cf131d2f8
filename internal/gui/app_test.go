package gui

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"dytool/internal/config"
	"dytool/pkg/model"
)

type emitted struct {
	name string
	data []any
}

func newTestApp(t *testing.T) (*App, *[]emitted) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Sqlite.Dsn = filepath.Join(t.TempDir(), "gui.sqlite3")
	cfg.Browser.DevToolsURL = "http://127.0.0.1:1"
	a := NewApp(cfg, nil)
	var got []emitted
	a.emit = func(_ context.Context, name string, data ...any) {
		got = append(got, emitted{name: name, data: data})
	}
	a.Startup(context.Background())
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, &got
}

func TestForwardEvents(t *testing.T) {
	a, got := newTestApp(t)
	a.forward(model.NewEvent(model.EventDownloadProgress, "s", model.DownloadProgress{Progress: 0.5}))
	a.forward(model.NewEvent(model.EventDownloadCanceled, "s", nil))

	require.Len(t, *got, 2)
	assert.Equal(t, model.EventDownloadProgress, (*got)[0].name)
	assert.Equal(t, []any{model.DownloadProgress{Progress: 0.5}}, (*got)[0].data)
	assert.Equal(t, model.EventDownloadCanceled, (*got)[1].name)
	assert.Empty(t, (*got)[1].data)
}

func TestPrepareDownloadUsesDialog(t *testing.T) {
	a, got := newTestApp(t)
	dir := t.TempDir()
	var opts runtime.SaveDialogOptions
	a.saveDialog = func(_ context.Context, o runtime.SaveDialogOptions) (string, error) {
		opts = o
		return filepath.Join(dir, "x.mp4"), nil
	}

	res := a.PrepareDownload("https://v.test/x.mp4", "x.mp4")
	assert.False(t, res.Canceled)
	assert.Equal(t, filepath.Join(dir, "x.mp4"), res.FilePath)
	assert.Equal(t, "x.mp4", opts.DefaultFilename)
	require.Len(t, *got, 1)
	assert.Equal(t, model.EventSaveDialog, (*got)[0].name)

	a.saveDialog = func(context.Context, runtime.SaveDialogOptions) (string, error) {
		return "", errors.New("no window")
	}
	res = a.PrepareDownload("https://v.test/x.mp4", "x.mp4")
	assert.True(t, res.Canceled)
}

func TestStartDownloadInvalidDestination(t *testing.T) {
	a, _ := newTestApp(t)
	res := a.StartDownload("https://v.test/x.mp4", "")
	assert.False(t, res.Success)
	assert.Equal(t, string(model.ErrInvalidDestination), res.Kind)
}

func TestExtractMedia(t *testing.T) {
	a, _ := newTestApp(t)
	res := a.ExtractMedia(`{"aweme_detail":{"aweme_id":"1","desc":"hi","video":{"play_addr":{"url_list":["https://v.test/1.mp4"]}}}}`)
	assert.True(t, res.Success)
	assert.Equal(t, "hi_1.mp4", res.Filename)
	assert.Equal(t, "https://v.test/1.mp4", res.PlayURL)

	assert.False(t, a.ExtractMedia(`{}`).Success)
}
