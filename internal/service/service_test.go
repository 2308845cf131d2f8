package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dytool/internal/capture"
	"dytool/internal/config"
	"dytool/internal/rules"
	"dytool/internal/storage"
	"dytool/pkg/model"
	"dytool/pkg/traffic"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(evt model.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

type fakeDialog struct {
	path    string
	gotDir  string
	gotName string
}

func (d *fakeDialog) SaveFile(_ context.Context, dir, suggested string) (string, error) {
	d.gotDir, d.gotName = dir, suggested
	return d.path, nil
}

// replayContext 导航时发出一次详情请求
type replayContext struct {
	target string
}

func (c *replayContext) Navigate(_ context.Context, _ string) error { return nil }

func (c *replayContext) Cookies(context.Context, string) (string, error) { return "", nil }

func (c *replayContext) Close() error { return nil }

type replayBrowser struct {
	target string
}

func (b *replayBrowser) NewContext(_ context.Context, observe func(*traffic.Request)) (capture.BrowsingContext, error) {
	go func() {
		req := traffic.NewRequest()
		req.URL = b.target
		observe(req)
	}()
	return &replayContext{target: b.target}, nil
}

func newTestService(t *testing.T, opts Options) (*Service, *storage.DB, *recorder) {
	t.Helper()
	db, err := storage.Open(storage.Options{Dsn: filepath.Join(t.TempDir(), "svc.sqlite3")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rec := &recorder{}
	opts.DB = db
	opts.Sink = rec
	if opts.Config == nil {
		opts.Config = config.NewConfig()
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s, db, rec
}

func TestPrepareDownloadRemembersDirectory(t *testing.T) {
	dir := t.TempDir()
	dialog := &fakeDialog{path: filepath.Join(dir, "video.mp4")}
	s, db, rec := newTestService(t, Options{Dialog: dialog})

	res, err := s.PrepareDownload("https://v.test/a.mp4", "video.mp4")
	require.NoError(t, err)
	assert.False(t, res.Canceled)
	assert.Equal(t, dialog.path, res.FilePath)
	assert.Equal(t, "video.mp4", dialog.gotName)
	assert.Empty(t, dialog.gotDir)

	v, err := db.Settings.Get(context.Background(), storage.SettingKeyLastSaveDir)
	require.NoError(t, err)
	assert.Equal(t, dir, v)

	dialog.path = ""
	res, err = s.PrepareDownload("https://v.test/a.mp4", "video.mp4")
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Equal(t, dir, dialog.gotDir)
	assert.Equal(t, []string{model.EventSaveDialog, model.EventSaveDialog}, rec.names())
}

func TestPrepareDownloadWithoutDialog(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	_, err := s.PrepareDownload("https://v.test/a.mp4", "a.mp4")
	assert.ErrorIs(t, err, ErrNoDialog)
}

func TestDownloadRecordsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()
	s, _, rec := newTestService(t, Options{})

	dest := filepath.Join(t.TempDir(), "a.mp4")
	id, err := s.StartDownload(srv.URL+"/a.mp4", dest)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, model.KindDownload))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(b))
	assert.Contains(t, rec.names(), model.EventDownloadComplete)

	hist, err := s.History(model.KindDownload, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].Session)
	assert.Equal(t, "completed", hist[0].State)
	assert.Equal(t, int64(len("video-bytes")), hist[0].Bytes)
	assert.Equal(t, dest, hist[0].Path)
}

func TestParseLinkEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"aweme_detail":{"aweme_id":"9","desc":"hello","video":{"play_addr":{"url_list":["https://v.test/9.mp4"]}}}}`))
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.Parse.MatchPatterns = []rules.Condition{rules.Glob(srv.URL + "/aweme/v1/web/aweme/detail/*")}
	s, _, rec := newTestService(t, Options{
		Config:  cfg,
		Browser: &replayBrowser{target: srv.URL + "/aweme/v1/web/aweme/detail/?aweme_id=9"},
	})

	_, err := s.ParseLink("https://www.douyin.com/video/9")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, model.KindParse))

	rec.mu.Lock()
	var result model.ParseResult
	for _, e := range rec.events {
		if e.Name == model.EventParseResult {
			result = e.Payload.(model.ParseResult)
		}
	}
	rec.mu.Unlock()
	require.True(t, result.Success)

	m, err := s.ExtractMedia(result.Data)
	require.NoError(t, err)
	assert.Equal(t, "https://v.test/9.mp4", m.PlayURL())
	assert.Equal(t, "hello_9.mp4", m.SuggestedFilename())

	hist, err := s.History(model.KindParse, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "completed", hist[0].State)

	n, err := s.ClearHistory()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCancelWithoutSessions(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	assert.False(t, s.CancelDownload())
	assert.False(t, s.CancelParse())
	assert.NoError(t, s.Wait(context.Background(), model.KindDownload))
}

func TestStartFailuresReachSink(t *testing.T) {
	s, _, rec := newTestService(t, Options{Browser: &replayBrowser{}})

	dest := filepath.Join(t.TempDir(), "missing", "v.mp4")
	_, err := s.StartDownload("https://v.test/a.mp4", dest)
	require.Error(t, err)
	assert.Equal(t, model.ErrInvalidDestination, model.KindOf(err))

	_, err = s.ParseLink("not a url")
	require.Error(t, err)
	assert.Equal(t, model.ErrLoad, model.KindOf(err))

	rec.mu.Lock()
	events := append([]model.Event(nil), rec.events...)
	rec.mu.Unlock()
	require.Len(t, events, 2)

	assert.Equal(t, model.EventDownloadError, events[0].Name)
	de, ok := events[0].Payload.(model.DownloadError)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidDestination, de.Kind)
	assert.Contains(t, de.Message, "无效的保存路径")

	assert.Equal(t, model.EventParseResult, events[1].Name)
	pr, ok := events[1].Payload.(model.ParseResult)
	require.True(t, ok)
	assert.False(t, pr.Success)
	assert.Equal(t, model.ErrLoad, pr.Kind)
	assert.Contains(t, pr.Error, "页面加载失败")

	hist, err := s.History("", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	for _, h := range hist {
		assert.Equal(t, "failed", h.State)
	}
}
