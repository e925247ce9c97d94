/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package fetch

import (
    "context"
    "math"
    "sort"
    "time"

    "github.com/HamedShams/review-pulse/internal/adapters/github"
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/HamedShams/review-pulse/internal/retry"
    "github.com/rs/zerolog"
)

// isGhostMerge flags bot/administrative merge artifacts: a merged PR with
// zero commits or zero changed files carries no real code change and would
// poison the wait statistics. The heuristic can misclassify legitimate
// empty-diff merges (submodule-pointer-only changes, for one); dropped
// records are logged at debug level so the rate stays observable.
func isGhostMerge(n github.MergedNode) bool {
    return n.Commits.TotalCount == 0 || n.ChangedFiles == 0
}

// daysToMerge is the rounded whole-day span between creation and merge,
// clamped at zero against upstream clock weirdness.
func daysToMerge(createdAt, mergedAt time.Time) int {
    d := int(math.Round(mergedAt.Sub(createdAt).Hours() / 24))
    if d < 0 { d = 0 }
    return d
}

type MergedResult struct {
    Records        []domain.MergedRecord
    LatestMergedAt *time.Time
    Skipped        bool // tripwire saw nothing new; reuse the cached blob
}

type MergedFetcher struct {
    cfg config.Config
    log zerolog.Logger
    gh  *github.Client
    rc  retry.Config
}

func NewMergedFetcher(cfg config.Config, log zerolog.Logger, gh *github.Client) *MergedFetcher {
    return &MergedFetcher{
        cfg: cfg,
        log: log,
        gh:  gh,
        rc:  retry.Config{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay},
    }
}

// Fetch refreshes the merge history. With a watermark and a cached blob in
// hand it first runs the cheap tripwire count; zero new merges skips the
// expensive bulk fetch entirely. Otherwise the full lookback window is
// re-fetched through the cursor-paginated search.
func (f *MergedFetcher) Fetch(ctx context.Context, watermark *time.Time, haveCached bool, force bool) (*MergedResult, error) {
    if !force && watermark != nil && haveCached {
        count, err := retry.Do(ctx, f.rc, f.log, "merged tripwire", func(ctx context.Context) (int, error) {
            return f.gh.SearchMergedCount(ctx, f.cfg.RepoOwner, f.cfg.RepoName, *watermark)
        })
        if err != nil { return nil, err }
        if count == 0 {
            f.log.Info().Time("watermark", *watermark).Msg("merged set unchanged upstream")
            return &MergedResult{Skipped: true, LatestMergedAt: watermark}, nil
        }
        f.log.Info().Int("new_merges", count).Msg("merged tripwire fired")
    }

    lookback := f.cfg.LookbackMonths
    if lookback <= 0 { lookback = 12 }
    since := time.Now().UTC().AddDate(0, -lookback, 0)
    perPage := f.cfg.PageSize
    if perPage <= 0 { perPage = 100 }

    seen := map[int64]bool{}
    var records []domain.MergedRecord
    ghosts := 0
    cursor := ""
    for {
        after := cursor
        page, err := retry.Do(ctx, f.rc, f.log, "merged-set page", func(ctx context.Context) (*github.MergedPage, error) {
            return f.gh.SearchMergedPage(ctx, f.cfg.RepoOwner, f.cfg.RepoName, since, perPage, after)
        })
        if err != nil { return nil, err }
        for _, n := range page.Nodes {
            if n.MergedAt == nil || n.DatabaseID == 0 { continue }
            if seen[n.DatabaseID] { continue }
            seen[n.DatabaseID] = true
            if isGhostMerge(n) {
                ghosts++
                f.log.Debug().Int64("id", n.DatabaseID).Str("url", n.URL).Msg("ghost merge excluded")
                continue
            }
            records = append(records, domain.MergedRecord{
                PullRequestRecord: domain.PullRequestRecord{
                    ID:        n.DatabaseID,
                    Title:     n.Title,
                    URL:       n.URL,
                    Type:      recordType(n.Labels.Nodes, f.cfg.PluginLabel, f.cfg.ThemeLabel),
                    CreatedAt: n.CreatedAt.UTC(),
                },
                MergedAt:    n.MergedAt.UTC(),
                DaysToMerge: daysToMerge(n.CreatedAt, *n.MergedAt),
            })
        }
        if !page.HasNextPage { break }
        cursor = page.EndCursor
    }
    sort.Slice(records, func(i, j int) bool { return records[i].MergedAt.Before(records[j].MergedAt) })

    latest := watermark
    if len(records) > 0 {
        m := records[len(records)-1].MergedAt
        latest = &m
    }
    f.log.Info().Int("records", len(records)).Int("ghosts", ghosts).Msg("merged set fetched")
    return &MergedResult{Records: records, LatestMergedAt: latest}, nil
}
