package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/cache"
	"github.com/JakeFAU/webmention-gatherer/internal/hash/sha256"
	"github.com/JakeFAU/webmention-gatherer/internal/mention"
	"github.com/JakeFAU/webmention-gatherer/internal/policy/throttle"
	"github.com/JakeFAU/webmention-gatherer/internal/processor"
	"github.com/JakeFAU/webmention-gatherer/internal/publisher/memory"
	"github.com/JakeFAU/webmention-gatherer/internal/render"
	"github.com/JakeFAU/webmention-gatherer/internal/site"
	memstore "github.com/JakeFAU/webmention-gatherer/internal/storage/memory"
)

const duplicateReplies = `{"links": [
	{"id": 42, "source": "https://elsewhere.example/reply-2", "verified_date": "2024-05-30T10:00:00+00:00",
	 "data": {"url": "https://elsewhere.example/reply-2", "content": "second", "published": "2024-05-30T09:00:00+00:00"},
	 "activity": {"type": "reply"}},
	{"id": 42, "source": "https://elsewhere.example/reply-1", "verified_date": "2024-05-29T10:00:00+00:00",
	 "data": {"url": "https://elsewhere.example/reply-1", "content": "first", "published": "2024-05-29T09:00:00+00:00"},
	 "activity": {"type": "reply"}}
]}`

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRun_EndToEndDeduplicates(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	api := newFakeAPI(map[string]string{"https://example.com/a": duplicateReplies})
	o := newTestOrchestrator(t, store, api, nil, Config{})

	summary, err := o.Run(context.Background(), []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 1, summary.PagesProcessed)
	assert.Equal(t, 1, summary.MentionsAdded)
	assert.Equal(t, 1, store.Writes())

	snapshot := loadSnapshot(t, store)
	require.Len(t, snapshot, 1)
	require.Len(t, snapshot["/a"], 1)
	rec := snapshot["/a"]["42"]
	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, mention.TypeReply, rec.Type)
	assert.Equal(t, "<p>first</p>", rec.Content)
}

func TestRun_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	api := newFakeAPI(map[string]string{"https://example.com/a": duplicateReplies})
	o := newTestOrchestrator(t, store, api, nil, Config{})
	items := []site.Item{{URL: "/a", Kind: site.KindPost}}

	_, err := o.Run(context.Background(), items)
	require.NoError(t, err)
	first, err := store.Get(context.Background())
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), items)
	require.NoError(t, err)
	second, err := store.Get(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.MentionsAdded)
	assert.Equal(t, string(first), string(second))
}

func TestRun_RequestParameters(t *testing.T) {
	t.Parallel()

	store := seededStore(t, "/post1", mention.Record{
		ID:  "42",
		Raw: map[string]any{"id": int64(42), "verified_date": "2024-05-31T12:00:00+00:00"},
	})
	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, store, api, nil, Config{LegacyDomains: []string{"https://old.example.com"}})

	_, err := o.Run(context.Background(), []site.Item{{
		URL:          "/post1",
		RedirectFrom: site.Aliases{"/old-post1"},
		Kind:         site.KindPost,
	}})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultEndpoint, calls[0].endpoint)
	assert.Equal(t, []string{
		"https://example.com/post1",
		"https://example.com/old-post1",
		"https://old.example.com/post1",
	}, calls[0].params[paramTarget])
	assert.Equal(t, "42", calls[0].params.Get(paramSinceID))
	assert.Equal(t, "9999", calls[0].params.Get(paramPerPage))
}

func TestRun_NoSinceIDWithoutHistory(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, memstore.NewStore(), api, nil, Config{})

	_, err := o.Run(context.Background(), []site.Item{{URL: "/fresh", Kind: site.KindPost}})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	_, ok := calls[0].params[paramSinceID]
	assert.False(t, ok)
}

func TestRun_ThrottleGateSkipsFetch(t *testing.T) {
	t.Parallel()

	store := seededStore(t, "/a", mention.Record{
		ID:  "42",
		Raw: map[string]any{"id": int64(42), "verified_date": testNow.Add(-time.Hour).Format(time.RFC3339)},
	})
	policy, err := throttle.New(map[string]string{throttle.LastWeek: "daily"})
	require.NoError(t, err)

	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, store, api, policy, Config{})
	posted := testNow.Add(-48 * time.Hour)

	summary, err := o.Run(context.Background(), []site.Item{
		{URL: "/a", Date: &posted, Kind: site.KindPost},
		{URL: "/b", Date: &posted, Kind: site.KindPost},
	})
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1, "only the page without history is looked up")
	assert.Equal(t, []string{"https://example.com/b"}, calls[0].params[paramTarget])
	assert.Equal(t, 1, summary.PagesThrottled)
	assert.Equal(t, 1, summary.PagesProcessed)
	assert.Len(t, loadSnapshot(t, store)["/a"], 1, "throttled page keeps its records")
}

func TestRun_ThrottleNotEvaluated(t *testing.T) {
	t.Parallel()

	recent := testNow.Add(-time.Hour).Format(time.RFC3339)
	posted := testNow.Add(-48 * time.Hour)
	policy, err := throttle.New(map[string]string{throttle.LastWeek: "daily"})
	require.NoError(t, err)

	cases := []struct {
		name string
		item site.Item
	}{
		{"undated item", site.Item{URL: "/a", Kind: site.KindPost}},
		{"bypass flag", site.Item{URL: "/a", Date: &posted, BypassThrottle: true, Kind: site.KindPost}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := seededStore(t, "/a", mention.Record{ID: "1", Raw: map[string]any{"id": int64(1), "verified_date": recent}})
			api := newFakeAPI(nil)
			o := newTestOrchestrator(t, store, api, policy, Config{})

			_, err := o.Run(context.Background(), []site.Item{tc.item})
			require.NoError(t, err)
			assert.Len(t, api.Calls(), 1)
		})
	}
}

func TestRun_PauseShortCircuits(t *testing.T) {
	t.Parallel()

	store := memstore.NewStoreWith([]byte("not: [valid"))
	api := newFakeAPI(nil)
	pub := memory.New()
	o := newTestOrchestratorWith(t, store, api, nil, pub, Config{PauseLookups: true})

	summary, err := o.Run(context.Background(), []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.NoError(t, err)
	assert.True(t, summary.Paused)
	assert.Empty(t, api.Calls())
	assert.Zero(t, store.Writes())
	assert.Empty(t, pub.Messages())
}

func TestRun_APIFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	api := newFakeAPI(map[string]string{"https://example.com/b": duplicateReplies})
	api.failFor["https://example.com/a"] = errors.New("502 bad gateway")
	o := newTestOrchestrator(t, store, api, nil, Config{})

	summary, err := o.Run(context.Background(), []site.Item{
		{URL: "/a", Kind: site.KindPost},
		{URL: "/b", Kind: site.KindPost},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.APIFailures)
	assert.Equal(t, 2, summary.PagesProcessed)

	snapshot := loadSnapshot(t, store)
	assert.Empty(t, snapshot["/a"])
	assert.Len(t, snapshot["/b"], 1)
}

func TestRun_LoadFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := memstore.NewStoreWith([]byte("/a: [unterminated"))
	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, store, api, nil, Config{})

	_, err := o.Run(context.Background(), []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrMalformedStore)
	assert.Empty(t, api.Calls())
	assert.Zero(t, store.Writes())
}

func TestRun_PagesRequireIncludePages(t *testing.T) {
	t.Parallel()

	items := []site.Item{{URL: "/post", Kind: site.KindPost}, {URL: "/about", Kind: site.KindPage}}

	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, memstore.NewStore(), api, nil, Config{})
	_, err := o.Run(context.Background(), items)
	require.NoError(t, err)
	assert.Len(t, api.Calls(), 1)

	api = newFakeAPI(nil)
	o = newTestOrchestrator(t, memstore.NewStore(), api, nil, Config{IncludePages: true})
	_, err = o.Run(context.Background(), items)
	require.NoError(t, err)
	assert.Len(t, api.Calls(), 2)
}

func TestRun_CanceledContextPersistsNothing(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	api := newFakeAPI(nil)
	o := newTestOrchestrator(t, store, api, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Writes())
}

func TestRun_PublishesSummaryAndWritesMetrics(t *testing.T) {
	t.Parallel()

	textfile := filepath.Join(t.TempDir(), "webmentions.prom")
	pub := memory.New()
	api := newFakeAPI(map[string]string{"https://example.com/a": duplicateReplies})
	o := newTestOrchestratorWith(t, memstore.NewStore(), api, nil, pub, Config{MetricsTextfile: textfile})

	_, err := o.Run(context.Background(), []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	payload, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.EqualValues(t, 1, decoded["pages_processed"])
	assert.EqualValues(t, 1, decoded["mentions_added"])

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "webmentions_pages_total")
}

func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	o := newTestOrchestratorWith(t, store, newFakeAPI(nil), nil, memory.NewFailing(errors.New("unavailable")), Config{})

	_, err := o.Run(context.Background(), []site.Item{{URL: "/a", Kind: site.KindPost}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Writes())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, newFakeAPI(nil), nopMerger{}, nil, fixedClock{}, nil, nil, Config{SiteURL: "https://example.com"}, nil)
	assert.Error(t, err)

	_, err = New(memstore.NewStore(), newFakeAPI(nil), nopMerger{}, nil, fixedClock{}, nil, nil, Config{}, nil)
	assert.Error(t, err)

	o, err := New(memstore.NewStore(), newFakeAPI(nil), nopMerger{}, nil, fixedClock{}, nil, nil, Config{SiteURL: "https://example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, o.cfg.Endpoint)
}

func newTestOrchestrator(
	t *testing.T,
	store cache.Store,
	api mention.APIClient,
	throttler mention.Throttler,
	cfg Config,
) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWith(t, store, api, throttler, nil, cfg)
}

func newTestOrchestratorWith(
	t *testing.T,
	store cache.Store,
	api mention.APIClient,
	throttler mention.Throttler,
	publisher mention.Publisher,
	cfg Config,
) *Orchestrator {
	t.Helper()
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://example.com"
	}
	proc := processor.New(nil, render.NewMarkdown(), fixedClock{}, sha256.New(), processor.Config{}, zap.NewNop())
	o, err := New(store, api, proc, throttler, fixedClock{}, fixedIDs{}, publisher, cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func seededStore(t *testing.T, page string, rec mention.Record) *memstore.Store {
	t.Helper()
	store := memstore.NewStore()
	c, err := cache.Load(context.Background(), store)
	require.NoError(t, err)
	c.SetPage(page, mention.PageSet{rec.ID: rec})
	require.NoError(t, c.Persist(context.Background()))
	return store
}

func loadSnapshot(t *testing.T, store cache.Store) map[string]mention.PageSet {
	t.Helper()
	c, err := cache.Load(context.Background(), store)
	require.NoError(t, err)
	return c.Snapshot()
}

type apiCall struct {
	endpoint string
	params   url.Values
}

// fakeAPI answers by first target; unknown targets get an empty response.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]string
	failFor   map[string]error
	calls     []apiCall
}

func newFakeAPI(responses map[string]string) *fakeAPI {
	return &fakeAPI{responses: responses, failFor: map[string]error{}}
}

func (f *fakeAPI) Get(_ context.Context, endpoint string, params url.Values) (*mention.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{endpoint: endpoint, params: params})

	first := params.Get(paramTarget)
	if err, ok := f.failFor[first]; ok {
		return nil, err
	}
	body, ok := f.responses[first]
	if !ok {
		return nil, nil
	}
	var resp mention.Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

type nopMerger struct{}

func (nopMerger) Process(_ context.Context, existing mention.PageSet, _ *mention.Response) mention.PageSet {
	return existing
}
