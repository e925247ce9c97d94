package fetch

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/x509"
    "encoding/json"
    "encoding/pem"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/HamedShams/review-pulse/internal/adapters/github"
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/rs/zerolog"
)

func testConfig(apiBase string) config.Config {
    key, _ := rsa.GenerateKey(rand.Reader, 2048)
    pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
    return config.Config{
        GitHubAPIBaseURL: apiBase,
        GitHubAppID:      1,
        GitHubInstallID:  1,
        GitHubPrivateKey: string(pemKey),
        RepoOwner:        "obsidianmd",
        RepoName:         "obsidian-releases",
        QueueLabel:       "Ready for review",
        PluginLabel:      "plugin",
        ThemeLabel:       "theme",
        HTTPTimeout:      5 * time.Second,
        PageSize:         2,
        LookbackMonths:   12,
        RetryMaxAttempts: 1,
    }
}

// upstream fakes the token exchange plus whatever data routes a test needs.
func upstream(t *testing.T, routes map[string]http.HandlerFunc) (*github.Client, config.Config) {
    t.Helper()
    mux := http.NewServeMux()
    mux.HandleFunc("/app/installations/", func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(map[string]any{
            "token":      "ghs_fetch_test",
            "expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
        })
    })
    for pattern, h := range routes {
        mux.HandleFunc(pattern, h)
    }
    srv := httptest.NewServer(mux)
    t.Cleanup(srv.Close)
    cfg := testConfig(srv.URL)
    gh, err := github.NewClient(cfg, zerolog.Nop())
    if err != nil {
        t.Fatalf("new client: %v", err)
    }
    return gh, cfg
}

func TestOpenFetchFiltersAndSorts(t *testing.T) {
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/repos/obsidianmd/obsidian-releases/issues": func(w http.ResponseWriter, r *http.Request) {
            // one plain issue, one untyped PR, one theme PR newer than the
            // plugin PR returned after it; short page ends the walk
            fmt.Fprint(w, `[
                {"id":1,"number":1,"title":"docs issue","created_at":"2026-08-01T00:00:00Z","labels":[{"name":"plugin"}]},
                {"id":2,"number":2,"title":"mystery","created_at":"2026-08-02T00:00:00Z","labels":[{"name":"Ready for review"}],"pull_request":{}},
                {"id":3,"number":3,"title":"Theme: dusk","created_at":"2026-08-03T00:00:00Z","labels":[{"name":"theme"}],"pull_request":{}},
                {"id":4,"number":4,"title":"Plugin: notes","created_at":"2026-08-02T12:00:00Z","labels":[{"name":"plugin"}],"pull_request":{}}
            ]`)
        },
    })
    cfg.PageSize = 100
    f := NewOpenFetcher(cfg, zerolog.Nop(), gh)
    res, err := f.Fetch(context.Background(), "")
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if res.NotModified {
        t.Fatal("unexpected not-modified")
    }
    if len(res.Records) != 2 {
        t.Fatalf("records = %+v", res.Records)
    }
    if res.Records[0].ID != 4 || res.Records[1].ID != 3 {
        t.Fatalf("not sorted oldest-first: %+v", res.Records)
    }
    if res.Records[0].Type != domain.TypePlugin || res.Records[1].Type != domain.TypeTheme {
        t.Fatalf("types = %v %v", res.Records[0].Type, res.Records[1].Type)
    }
}

func TestOpenFetchPaginatesUntilShortPage(t *testing.T) {
    pages := 0
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/repos/obsidianmd/obsidian-releases/issues": func(w http.ResponseWriter, r *http.Request) {
            pages++
            switch r.URL.Query().Get("page") {
            case "1":
                fmt.Fprint(w, `[
                    {"id":1,"title":"a","created_at":"2026-08-01T00:00:00Z","labels":[{"name":"plugin"}],"pull_request":{}},
                    {"id":2,"title":"b","created_at":"2026-08-02T00:00:00Z","labels":[{"name":"plugin"}],"pull_request":{}}
                ]`)
            default:
                fmt.Fprint(w, `[
                    {"id":3,"title":"c","created_at":"2026-08-03T00:00:00Z","labels":[{"name":"theme"}],"pull_request":{}}
                ]`)
            }
        },
    })
    f := NewOpenFetcher(cfg, zerolog.Nop(), gh) // PageSize 2
    res, err := f.Fetch(context.Background(), "")
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if pages != 2 {
        t.Fatalf("pages fetched = %d, want 2", pages)
    }
    if len(res.Records) != 3 {
        t.Fatalf("records = %d", len(res.Records))
    }
}

func TestOpenFetchNotModified(t *testing.T) {
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/repos/obsidianmd/obsidian-releases/issues": func(w http.ResponseWriter, r *http.Request) {
            if r.Header.Get("If-None-Match") == `"tag"` {
                w.WriteHeader(http.StatusNotModified)
                return
            }
            t.Error("expected a conditional request")
        },
    })
    f := NewOpenFetcher(cfg, zerolog.Nop(), gh)
    res, err := f.Fetch(context.Background(), `"tag"`)
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if !res.NotModified || res.ETag != `"tag"` {
        t.Fatalf("res = %+v", res)
    }
}

func TestMergedTripwireSkips(t *testing.T) {
    bulkCalled := false
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/search/issues": func(w http.ResponseWriter, r *http.Request) {
            fmt.Fprint(w, `{"total_count":0,"items":[]}`)
        },
        "/graphql": func(w http.ResponseWriter, r *http.Request) {
            bulkCalled = true
        },
    })
    f := NewMergedFetcher(cfg, zerolog.Nop(), gh)
    wm := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    res, err := f.Fetch(context.Background(), &wm, true, false)
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if !res.Skipped {
        t.Fatal("tripwire should have skipped the bulk fetch")
    }
    if res.LatestMergedAt == nil || !res.LatestMergedAt.Equal(wm) {
        t.Fatalf("watermark = %v", res.LatestMergedAt)
    }
    if bulkCalled {
        t.Fatal("bulk endpoint reached despite zero count")
    }
}

func mergedGraphQLPage(nodes string, hasNext bool, cursor string) string {
    return fmt.Sprintf(`{"data":{"search":{"pageInfo":{"hasNextPage":%v,"endCursor":"%s"},"nodes":[%s]}}}`, hasNext, cursor, nodes)
}

func TestMergedFullFetchDedupsAndExcludesGhosts(t *testing.T) {
    node := func(id int, merged string, commits, files int) string {
        return fmt.Sprintf(`{"databaseId":%d,"title":"p%d","url":"u%d",
            "createdAt":"2026-07-01T00:00:00Z","mergedAt":"%s",
            "changedFiles":%d,"commits":{"totalCount":%d},
            "labels":{"nodes":[{"name":"plugin"}]}}`, id, id, id, merged, files, commits)
    }
    call := 0
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/search/issues": func(w http.ResponseWriter, r *http.Request) {
            fmt.Fprint(w, `{"total_count":3,"items":[]}`)
        },
        "/graphql": func(w http.ResponseWriter, r *http.Request) {
            call++
            if call == 1 {
                fmt.Fprint(w, mergedGraphQLPage(strings.Join([]string{
                    node(10, "2026-07-20T00:00:00Z", 1, 1),
                    node(11, "2026-07-10T00:00:00Z", 0, 3), // ghost: zero commits
                }, ","), true, "C1"))
                return
            }
            fmt.Fprint(w, mergedGraphQLPage(strings.Join([]string{
                node(10, "2026-07-20T00:00:00Z", 1, 1), // duplicate across pages
                node(12, "2026-07-15T00:00:00Z", 2, 0), // ghost: zero files
                node(13, "2026-07-05T00:00:00Z", 1, 4),
            }, ","), false, ""))
        },
    })
    f := NewMergedFetcher(cfg, zerolog.Nop(), gh)
    wm := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
    res, err := f.Fetch(context.Background(), &wm, true, false)
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if res.Skipped {
        t.Fatal("tripwire fired, fetch must not skip")
    }
    if len(res.Records) != 2 {
        t.Fatalf("records = %+v", res.Records)
    }
    if res.Records[0].ID != 13 || res.Records[1].ID != 10 {
        t.Fatalf("not sorted by merge time: %+v", res.Records)
    }
    want := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
    if res.LatestMergedAt == nil || !res.LatestMergedAt.Equal(want) {
        t.Fatalf("watermark = %v", res.LatestMergedAt)
    }
}

func TestMergedForceBypassesTripwire(t *testing.T) {
    tripwire := false
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/search/issues": func(w http.ResponseWriter, r *http.Request) {
            tripwire = true
            fmt.Fprint(w, `{"total_count":0,"items":[]}`)
        },
        "/graphql": func(w http.ResponseWriter, r *http.Request) {
            fmt.Fprint(w, mergedGraphQLPage("", false, ""))
        },
    })
    f := NewMergedFetcher(cfg, zerolog.Nop(), gh)
    wm := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    res, err := f.Fetch(context.Background(), &wm, true, true)
    if err != nil {
        t.Fatalf("fetch: %v", err)
    }
    if res.Skipped {
        t.Fatal("forced fetch must not skip")
    }
    if tripwire {
        t.Fatal("forced fetch must not run the tripwire")
    }
    // empty result keeps the previous watermark
    if res.LatestMergedAt == nil || !res.LatestMergedAt.Equal(wm) {
        t.Fatalf("watermark = %v", res.LatestMergedAt)
    }
}

func TestMergedNoCacheSkipsTripwire(t *testing.T) {
    gh, cfg := upstream(t, map[string]http.HandlerFunc{
        "/search/issues": func(w http.ResponseWriter, r *http.Request) {
            t.Error("tripwire must not run without a cached blob")
        },
        "/graphql": func(w http.ResponseWriter, r *http.Request) {
            fmt.Fprint(w, mergedGraphQLPage("", false, ""))
        },
    })
    f := NewMergedFetcher(cfg, zerolog.Nop(), gh)
    wm := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    if _, err := f.Fetch(context.Background(), &wm, false, false); err != nil {
        t.Fatalf("fetch: %v", err)
    }
}

func TestDaysToMerge(t *testing.T) {
    base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    cases := []struct {
        merged time.Time
        want   int
    }{
        {base.Add(24 * time.Hour), 1},
        {base.Add(36 * time.Hour), 2},  // rounds up
        {base.Add(11 * time.Hour), 0},  // rounds down
        {base.Add(-48 * time.Hour), 0}, // clock skew clamps at zero
        {base, 0},
    }
    for _, c := range cases {
        if got := daysToMerge(base, c.merged); got != c.want {
            t.Errorf("daysToMerge(%v) = %d, want %d", c.merged, got, c.want)
        }
    }
}

func TestRecordType(t *testing.T) {
    labels := func(names ...string) []github.IssueLabel {
        out := make([]github.IssueLabel, len(names))
        for i, n := range names {
            out[i] = github.IssueLabel{Name: n}
        }
        return out
    }
    if got := recordType(labels("Ready for review", "plugin"), "plugin", "theme"); got != domain.TypePlugin {
        t.Errorf("plugin label: %v", got)
    }
    if got := recordType(labels("theme"), "plugin", "theme"); got != domain.TypeTheme {
        t.Errorf("theme label: %v", got)
    }
    if got := recordType(labels("Ready for review"), "plugin", "theme"); got != domain.TypeUnknown {
        t.Errorf("no type label: %v", got)
    }
    if got := recordType(nil, "plugin", "theme"); got != domain.TypeUnknown {
        t.Errorf("nil labels: %v", got)
    }
}
