/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package ingest ties the fetchers, the summary builder and the dataset
// cache together: one run per scheduled tick or on-demand trigger.
package ingest

import (
    "context"
    "encoding/json"
    "errors"
    "sync/atomic"
    "time"

    "github.com/HamedShams/review-pulse/internal/cache"
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/HamedShams/review-pulse/internal/fetch"
    "github.com/HamedShams/review-pulse/internal/stats"
    "github.com/HamedShams/review-pulse/internal/store"
    "github.com/rs/zerolog"
    "golang.org/x/sync/errgroup"
)

const (
    SummaryKey = "summary"
    LastRunKey = "runs:last"

    OpenDataset   = "open-prs"
    MergedDataset = "merged-prs"
)

// ErrRunInProgress is returned when a trigger races an active run. The
// caller simply tries again later; the active run's result stands.
var ErrRunInProgress = errors.New("ingest: run already in progress")

// ErrNotReady is returned by Summary before the first successful run.
var ErrNotReady = errors.New("ingest: no summary yet")

// RunResult is the trigger response. Re-running with unchanged upstream
// data only refreshes CheckedAt.
type RunResult struct {
    OK               bool              `json:"ok"`
    SummaryUpdated   bool              `json:"summaryUpdated"`
    OpenSetUpdated   bool              `json:"openSetUpdated"`
    MergedSetUpdated bool              `json:"mergedSetUpdated"`
    Versions         map[string]string `json:"versions"`
    CheckedAt        time.Time         `json:"checkedAt"`
    Error            string            `json:"error,omitempty"`
}

type openFetcher interface {
    Fetch(ctx context.Context, prevETag string) (*fetch.OpenResult, error)
}

type mergedFetcher interface {
    Fetch(ctx context.Context, watermark *time.Time, haveCached bool, force bool) (*fetch.MergedResult, error)
}

type Orchestrator struct {
    cfg    config.Config
    log    zerolog.Logger
    kv     store.KV
    cache  *cache.DatasetCache
    open   openFetcher
    merged mergedFetcher

    running atomic.Bool
}

func New(cfg config.Config, log zerolog.Logger, kv store.KV, dc *cache.DatasetCache, open openFetcher, merged mergedFetcher) *Orchestrator {
    return &Orchestrator{cfg: cfg, log: log, kv: kv, cache: dc, open: open, merged: merged}
}

// Summary returns the last persisted summary, or ErrNotReady before the
// first successful run.
func (o *Orchestrator) Summary(ctx context.Context) (*domain.Summary, error) {
    raw, ok, err := o.kv.Get(ctx, SummaryKey)
    if err != nil { return nil, err }
    if !ok { return nil, ErrNotReady }
    var s domain.Summary
    if err := json.Unmarshal(raw, &s); err != nil {
        // a malformed summary reads as not-ready; the next run rewrites it
        o.log.Warn().Err(err).Msg("malformed persisted summary")
        return nil, ErrNotReady
    }
    return &s, nil
}

// LastRun returns the bookkeeping record of the most recent run.
func (o *Orchestrator) LastRun(ctx context.Context) (*domain.RunRecord, bool, error) {
    raw, ok, err := o.kv.Get(ctx, LastRunKey)
    if err != nil || !ok { return nil, false, err }
    var rr domain.RunRecord
    if err := json.Unmarshal(raw, &rr); err != nil { return nil, false, nil }
    return &rr, true, nil
}

// Run executes one ingestion pass: decide per-set refresh necessity, fetch
// what changed, recompute the summary, persist blobs before the summary so
// its pointers are never ahead of the cache. Any fetch failure aborts the
// whole run and leaves the previous summary untouched.
func (o *Orchestrator) Run(ctx context.Context, force bool) (*RunResult, error) {
    if !o.running.CompareAndSwap(false, true) { return nil, ErrRunInProgress }
    defer o.running.Store(false)

    started := time.Now().UTC()
    res, err := o.run(ctx, force)
    rec := domain.RunRecord{StartedAt: started, FinishedAt: time.Now().UTC(), Forced: force}
    if err != nil {
        o.log.Error().Err(err).Msg("ingest run failed")
        rec.Error = err.Error()
        res = &RunResult{OK: false, CheckedAt: started, Error: err.Error()}
    } else {
        rec.OK = true
        rec.SummaryUpdated = res.SummaryUpdated
        rec.OpenSetUpdated = res.OpenSetUpdated
        rec.MergedSetUpdated = res.MergedSetUpdated
    }
    if raw, merr := json.Marshal(rec); merr == nil {
        if perr := o.kv.Put(ctx, LastRunKey, raw); perr != nil {
            o.log.Warn().Err(perr).Msg("run record write failed")
        }
    }
    return res, err
}

func (o *Orchestrator) run(ctx context.Context, force bool) (*RunResult, error) {
    ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
    defer cancel()

    prev, err := o.Summary(ctx)
    if err != nil && !errors.Is(err, ErrNotReady) { return nil, err }

    // Preload cached raw sets. A soft cache miss simply forces a full
    // refetch of the affected set.
    openCached, openPtr, openOK := o.readOpenSet(ctx)
    mergedCached, mergedPtr, mergedOK := o.readMergedSet(ctx)

    prevETag := ""
    var watermark *time.Time
    if prev != nil {
        prevETag = prev.OpenSetETag
        watermark = prev.LatestMergedAt
    }
    if force || !openOK { prevETag = "" }

    o.log.Info().Bool("force", force).Bool("open_cached", openOK).Bool("merged_cached", mergedOK).Msg("ingest run start")

    var openRes *fetch.OpenResult
    var mergedRes *fetch.MergedResult
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        o.log.Info().Str("state", "fetching_open_set").Msg("ingest")
        r, err := o.open.Fetch(gctx, prevETag)
        if err != nil { return err }
        openRes = r
        return nil
    })
    g.Go(func() error {
        o.log.Info().Str("state", "fetching_merged_set").Msg("ingest")
        r, err := o.merged.Fetch(gctx, watermark, mergedOK, force)
        if err != nil { return err }
        mergedRes = r
        return nil
    })
    if err := g.Wait(); err != nil { return nil, err }

    openRecords := openRes.Records
    if openRes.NotModified { openRecords = openCached }
    mergedRecords := mergedRes.Records
    if mergedRes.Skipped { mergedRecords = mergedCached }

    o.log.Info().Str("state", "summarizing").Msg("ingest")
    p := stats.Params{VelocityWeeks: o.cfg.VelocityWeeks, WaitSampleSize: o.cfg.WaitSampleSize}
    summary := stats.Build(openRecords, mergedRecords, time.Now(), p)
    summary.OpenSetETag = openRes.ETag
    summary.LatestMergedAt = mergedRes.LatestMergedAt

    // Persist changed blobs first; the summary must never point at a
    // version that is not in the cache yet.
    o.log.Info().Str("state", "persisting").Msg("ingest")
    if !openRes.NotModified {
        raw, err := json.Marshal(openRecords)
        if err != nil { return nil, err }
        ptr, err := o.cache.Write(ctx, OpenDataset, raw)
        if err != nil { return nil, err }
        openPtr = ptr
    }
    if !mergedRes.Skipped {
        raw, err := json.Marshal(mergedRecords)
        if err != nil { return nil, err }
        ptr, err := o.cache.Write(ctx, MergedDataset, raw)
        if err != nil { return nil, err }
        mergedPtr = ptr
    }
    summary.OpenSet = openPtr
    summary.MergedSet = mergedPtr

    raw, err := json.Marshal(summary)
    if err != nil { return nil, err }
    if err := o.kv.Put(ctx, SummaryKey, raw); err != nil { return nil, err }

    res := &RunResult{
        OK:        true,
        CheckedAt: summary.CheckedAt,
        Versions:  map[string]string{},
        SummaryUpdated: true,
    }
    if openPtr != nil {
        res.Versions[OpenDataset] = openPtr.Version
        res.OpenSetUpdated = prev == nil || prev.OpenSet == nil || prev.OpenSet.Version != openPtr.Version
    }
    if mergedPtr != nil {
        res.Versions[MergedDataset] = mergedPtr.Version
        res.MergedSetUpdated = prev == nil || prev.MergedSet == nil || prev.MergedSet.Version != mergedPtr.Version
    }

    // Pruning is best-effort housekeeping, detached so it never blocks the
    // run or the trigger response.
    go o.pruneDetached()

    o.log.Info().Str("state", "idle").Bool("open_updated", res.OpenSetUpdated).Bool("merged_updated", res.MergedSetUpdated).Msg("ingest run done")
    return res, nil
}

func (o *Orchestrator) readOpenSet(ctx context.Context) ([]domain.PullRequestRecord, *domain.DatasetPointer, bool) {
    raw, ptr, ok, err := o.cache.Read(ctx, OpenDataset)
    if err != nil || !ok { return nil, nil, false }
    var records []domain.PullRequestRecord
    if err := json.Unmarshal(raw, &records); err != nil {
        o.log.Warn().Err(err).Msg("cached open set unreadable, will refetch")
        return nil, nil, false
    }
    return records, ptr, true
}

func (o *Orchestrator) readMergedSet(ctx context.Context) ([]domain.MergedRecord, *domain.DatasetPointer, bool) {
    raw, ptr, ok, err := o.cache.Read(ctx, MergedDataset)
    if err != nil || !ok { return nil, nil, false }
    var records []domain.MergedRecord
    if err := json.Unmarshal(raw, &records); err != nil {
        o.log.Warn().Err(err).Msg("cached merged set unreadable, will refetch")
        return nil, nil, false
    }
    return records, ptr, true
}

func (o *Orchestrator) pruneDetached() {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    for _, name := range []string{OpenDataset, MergedDataset} {
        n, err := o.cache.Prune(ctx, name, o.cfg.RetainVersions)
        if err != nil {
            o.log.Warn().Err(err).Str("dataset", name).Msg("prune failed")
            continue
        }
        if n > 0 { o.log.Info().Str("dataset", name).Int("deleted", n).Msg("pruned old versions") }
    }
}
