package mixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceover-mixer/internal/config"
	"voiceover-mixer/internal/filtergraph"
	"voiceover-mixer/internal/mixerr"
	"voiceover-mixer/internal/transcoder"
	"voiceover-mixer/internal/workspace"
	"voiceover-mixer/pkg/models"
)

type stubFetcher struct {
	mu   sync.Mutex
	fail map[string]error
	got  []string
}

func (f *stubFetcher) Fetch(_ context.Context, uri, dst string) (int64, error) {
	f.mu.Lock()
	f.got = append(f.got, uri)
	f.mu.Unlock()
	if err := f.fail[uri]; err != nil {
		return 0, err
	}
	return 4, os.WriteFile(dst, []byte("data"), 0o600)
}

// stubTranscoder fails the first failN calls and records every graph.
type stubTranscoder struct {
	failN  int
	graphs []*filtergraph.Graph
	// subtitles captures the subtitle file content seen during each call.
	subtitles []string
}

func (s *stubTranscoder) Transcode(_ context.Context, inv transcoder.Invocation) (string, error) {
	s.graphs = append(s.graphs, inv.Graph)
	sub, _ := os.ReadFile(filepath.Join(filepath.Dir(inv.Output), subtitleFile))
	s.subtitles = append(s.subtitles, string(sub))
	if len(s.graphs) <= s.failN {
		return "ffmpeg: filter failed", errors.New("exit status 1")
	}
	return "", os.WriteFile(inv.Output, []byte("mp4"), 0o600)
}

type stubProber float64

func (p stubProber) ProbeDuration(context.Context, string) (float64, error) {
	return float64(p), nil
}

type stubStore struct {
	err  error
	keys []string
}

func (s *stubStore) PutFile(_ context.Context, key, path, _ string) (string, error) {
	s.keys = append(s.keys, key)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.example.com/" + key, nil
}

type harness struct {
	svc     *Service
	root    string
	cfg     *config.Config
	fetcher *stubFetcher
	tc      *stubTranscoder
}

func newHarness(t *testing.T, failN int, store Uploader, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	fetcher := &stubFetcher{fail: map[string]error{}}
	root := t.TempDir()
	mgr, err := workspace.NewManager(root, fetcher)
	require.NoError(t, err)

	tc := &stubTranscoder{failN: failN}
	prober := stubProber(30)
	svc := New(cfg, Deps{
		Workspaces: mgr,
		Executor:   transcoder.NewExecutor(tc, prober),
		Prober:     prober,
		Store:      store,
		VideoCodec: "libx264",
	})
	return &harness{svc: svc, root: root, cfg: cfg, fetcher: fetcher, tc: tc}
}

func (h *harness) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be released")
}

func stagesOf(g *filtergraph.Graph, op filtergraph.Op) []filtergraph.Stage {
	var out []filtergraph.Stage
	for _, st := range g.Stages {
		if st.Op == op {
			out = append(out, st)
		}
	}
	return out
}

func request() models.MixRequest {
	return models.MixRequest{
		VideoURL: "https://cdn.example.com/in.mp4",
		AudioURL: "https://cdn.example.com/vo.mp3?sig=1",
		Script:   "one two three four",
	}
}

func TestMixSubtitlesFirstRung(t *testing.T) {
	h := newHarness(t, 0, nil, nil)

	var delivered []Result
	err := h.svc.Mix(context.Background(), request(), func(r Result) error {
		data, err := os.ReadFile(r.ArtifactPath)
		require.NoError(t, err)
		assert.Equal(t, "mp4", string(data))
		delivered = append(delivered, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, delivered, 1)
	assert.Equal(t, 1, delivered[0].Rung)
	assert.Equal(t, RungFull, delivered[0].RungName)
	assert.False(t, delivered[0].Degraded)
	assert.InDelta(t, 30, delivered[0].DurationSeconds, 1e-9)
	assert.Empty(t, delivered[0].URL)

	require.Len(t, h.tc.graphs, 1)
	subs := stagesOf(h.tc.graphs[0], filtergraph.OpSubtitles)
	require.Len(t, subs, 1)
	assert.Contains(t, h.tc.subtitles[0], "00:00:00,000 --> 00:00:05,000\none")
	assert.Contains(t, h.tc.subtitles[0], "00:00:15,000 --> 00:00:20,000\nfour")

	assert.Equal(t, []string{"https://cdn.example.com/in.mp4", "https://cdn.example.com/vo.mp3?sig=1"}, h.fetcher.got)
	h.assertNoWorkspaces(t)
}

func TestMixTextOverlayChainsCues(t *testing.T) {
	h := newHarness(t, 0, nil, func(c *config.Config) {
		c.Captions.Mode = "text"
		c.Captions.Policy = "proportional"
	})

	req := request()
	req.Script = "it's a deal: 50% off"
	require.NoError(t, h.svc.Mix(context.Background(), req, func(Result) error { return nil }))

	stages := stagesOf(h.tc.graphs[0], filtergraph.OpDrawText)
	require.NotEmpty(t, stages)
	for _, st := range stages {
		text, _ := st.Param("text")
		assert.NotContains(t, strings.ReplaceAll(text, `\%`, ""), "%")
	}
	last, _ := stages[len(stages)-1].Param("enable")
	assert.True(t, strings.HasSuffix(last, "lt(t,30)"), last)
	h.assertNoWorkspaces(t)
}

func TestMixFallsBackToVoiceOnly(t *testing.T) {
	h := newHarness(t, 2, nil, nil)

	var got Result
	require.NoError(t, h.svc.Mix(context.Background(), request(), func(r Result) error { got = r; return nil }))

	assert.Equal(t, 3, got.Rung)
	assert.Equal(t, RungVoiceOnly, got.RungName)
	assert.True(t, got.Degraded)
	require.Len(t, h.tc.graphs, 3)
	assert.Empty(t, h.tc.graphs[2].Stages)
	assert.Equal(t, []string{"0:v:0", "1:a:0"}, h.tc.graphs[2].Maps)
	h.assertNoWorkspaces(t)
}

func TestMixWithoutCaptionsSkipsFullRung(t *testing.T) {
	h := newHarness(t, 0, nil, nil)
	req := request()
	req.Script = ""

	var got Result
	require.NoError(t, h.svc.Mix(context.Background(), req, func(r Result) error { got = r; return nil }))

	assert.Equal(t, 2, got.Rung)
	assert.False(t, got.Degraded)
	require.Len(t, h.tc.graphs, 1)
	assert.False(t, h.tc.graphs[0].HasVideoStages())
}

func TestMixTranscodeExhaustionReleasesWorkspace(t *testing.T) {
	h := newHarness(t, 3, nil, nil)

	called := false
	err := h.svc.Mix(context.Background(), request(), func(Result) error { called = true; return nil })

	require.Error(t, err)
	assert.Equal(t, mixerr.KindTranscode, mixerr.KindOf(err))
	assert.Equal(t, "ffmpeg: filter failed", mixerr.DetailOf(err))
	assert.False(t, called)
	assert.Len(t, h.tc.graphs, 3)
	h.assertNoWorkspaces(t)
}

func TestMixValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.MixRequest)
		kind   mixerr.Kind
	}{
		{"missing video", func(r *models.MixRequest) { r.VideoURL = "" }, mixerr.KindValidation},
		{"missing audio", func(r *models.MixRequest) { r.AudioURL = " " }, mixerr.KindValidation},
		{"script and subtitles", func(r *models.MixRequest) { r.Subtitles = "1\n00:00:00,000 --> 00:00:01,000\nhi\n" }, mixerr.KindValidation},
		{"unknown caption mode", func(r *models.MixRequest) { r.CaptionMode = "karaoke" }, mixerr.KindValidation},
		{"malformed subtitles", func(r *models.MixRequest) {
			r.Script = ""
			r.Subtitles = "1\n00:00:05,000 --> 00:00:01,000\nbackwards\n"
		}, mixerr.KindTiming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0, nil, nil)
			req := request()
			tt.mutate(&req)

			err := h.svc.Mix(context.Background(), req, func(Result) error { return nil })
			require.Error(t, err)
			assert.Equal(t, tt.kind, mixerr.KindOf(err))
			assert.Empty(t, h.fetcher.got, "nothing is fetched for a rejected request")
			h.assertNoWorkspaces(t)
		})
	}
}

func TestMixPassesSubtitlesThrough(t *testing.T) {
	h := newHarness(t, 0, nil, nil)
	req := request()
	req.Script = ""
	req.Subtitles = "WEBVTT\n\n00:01.500 --> 00:03.000\nHello, world\n"

	require.NoError(t, h.svc.Mix(context.Background(), req, func(Result) error { return nil }))
	assert.Equal(t, "1\n00:00:01,500 --> 00:00:03,000\nHello, world\n\n", h.tc.subtitles[0])
}

func TestMixFetchFailure(t *testing.T) {
	h := newHarness(t, 0, nil, nil)
	h.fetcher.fail["https://cdn.example.com/vo.mp3?sig=1"] = errors.New("status 404")

	err := h.svc.Mix(context.Background(), request(), func(Result) error { return nil })
	require.Error(t, err)
	assert.Equal(t, mixerr.KindFetch, mixerr.KindOf(err))
	assert.Empty(t, h.tc.graphs)
	h.assertNoWorkspaces(t)
}

func TestMixUploadsToStore(t *testing.T) {
	store := &stubStore{}
	h := newHarness(t, 0, store, nil)

	var got Result
	require.NoError(t, h.svc.Mix(context.Background(), request(), func(r Result) error { got = r; return nil }))

	require.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], "mixes/"))
	assert.True(t, strings.HasSuffix(store.keys[0], "/output.mp4"))
	assert.Equal(t, "https://cdn.example.com/"+store.keys[0], got.URL)
	h.assertNoWorkspaces(t)
}

func TestMixStorageFailureKeepsKind(t *testing.T) {
	h := newHarness(t, 0, &stubStore{err: errors.New("403 forbidden")}, nil)

	err := h.svc.Mix(context.Background(), request(), func(Result) error { return nil })
	require.Error(t, err)
	assert.Equal(t, mixerr.KindStorage, mixerr.KindOf(err))
	h.assertNoWorkspaces(t)
}

func TestMixDeliverErrorStillReleases(t *testing.T) {
	h := newHarness(t, 0, nil, nil)
	boom := errors.New("client went away")

	err := h.svc.Mix(context.Background(), request(), func(Result) error { return boom })
	assert.ErrorIs(t, err, boom)
	h.assertNoWorkspaces(t)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mp4", extension("https://x/a/b.MP4?sig=1"))
	assert.Equal(t, ".mp3", extension("/local/vo.mp3"))
	assert.Equal(t, "", extension("https://x/download"))
	assert.Equal(t, "", extension("https://x/a.b c"))
}
