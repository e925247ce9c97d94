/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package fetch holds the two upstream fetch strategies. They are
// deliberately independent: the open set is a cheap conditional REST
// listing, the merged set a tripwire-gated bulk history fetch.
package fetch

import (
    "context"
    "sort"

    "github.com/HamedShams/review-pulse/internal/adapters/github"
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/HamedShams/review-pulse/internal/retry"
    "github.com/rs/zerolog"
)

// recordType resolves the submission type from the label set. Items with
// neither recognized label map to TypeUnknown and the open-set fetcher
// drops them entirely.
func recordType(labels []github.IssueLabel, pluginLabel, themeLabel string) domain.RecordType {
    for _, l := range labels {
        switch l.Name {
        case pluginLabel:
            return domain.TypePlugin
        case themeLabel:
            return domain.TypeTheme
        }
    }
    return domain.TypeUnknown
}

type OpenResult struct {
    Records     []domain.PullRequestRecord
    ETag        string
    NotModified bool // reuse the previously cached open-set blob verbatim
}

type OpenFetcher struct {
    cfg config.Config
    log zerolog.Logger
    gh  *github.Client
    rc  retry.Config
}

func NewOpenFetcher(cfg config.Config, log zerolog.Logger, gh *github.Client) *OpenFetcher {
    return &OpenFetcher{
        cfg: cfg,
        log: log,
        gh:  gh,
        rc:  retry.Config{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay},
    }
}

// Fetch walks the label-filtered open listing. Page 1 carries prevETag; a
// not-modified response short-circuits the whole walk. A short page ends
// pagination. Result is sorted oldest-first (front of the queue).
func (f *OpenFetcher) Fetch(ctx context.Context, prevETag string) (*OpenResult, error) {
    perPage := f.cfg.PageSize
    if perPage <= 0 { perPage = 100 }
    var records []domain.PullRequestRecord
    etag := ""
    page := 1
    for {
        p := page
        res, err := retry.Do(ctx, f.rc, f.log, "open-set page", func(ctx context.Context) (*github.OpenPage, error) {
            e := ""
            if p == 1 { e = prevETag }
            return f.gh.ListOpenPage(ctx, f.cfg.RepoOwner, f.cfg.RepoName, f.cfg.QueueLabel, p, perPage, e)
        })
        if err != nil { return nil, err }
        if res.NotModified {
            f.log.Info().Str("etag", prevETag).Msg("open set unchanged upstream")
            return &OpenResult{NotModified: true, ETag: prevETag}, nil
        }
        if p == 1 { etag = res.ETag }
        for _, it := range res.Items {
            if it.PullRequest == nil { continue } // plain issue, not a PR
            t := recordType(it.Labels, f.cfg.PluginLabel, f.cfg.ThemeLabel)
            if t == domain.TypeUnknown { continue }
            records = append(records, domain.PullRequestRecord{
                ID:        it.ID,
                Title:     it.Title,
                URL:       it.HTMLURL,
                Type:      t,
                CreatedAt: it.CreatedAt.UTC(),
            })
        }
        if len(res.Items) < perPage { break }
        page++
    }
    sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
    f.log.Info().Int("records", len(records)).Int("pages", page).Msg("open set fetched")
    return &OpenResult{Records: records, ETag: etag}, nil
}
