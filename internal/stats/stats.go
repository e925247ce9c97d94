/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package stats turns raw record sets into the decision-ready summary.
// Everything here is pure: records in, numbers out.
package stats

import (
    "math"
    "sort"
    "time"

    "github.com/HamedShams/review-pulse/internal/domain"
)

// Params bound the statistical windows. Zero values fall back to the
// defaults used across the service.
type Params struct {
    VelocityWeeks  int // trailing window for throughput and buckets; default 12
    WaitSampleSize int // most recent merges fed into the wait estimate; default 50
}

func (p Params) withDefaults() Params {
    if p.VelocityWeeks <= 0 { p.VelocityWeeks = 12 }
    if p.WaitSampleSize <= 0 { p.WaitSampleSize = 50 }
    return p
}

// weekStart floors a time to Monday 00:00 in its own location.
func weekStart(t time.Time) time.Time {
    weekday := int(t.Weekday())
    if weekday == 0 { weekday = 7 }
    day := t.AddDate(0, 0, -(weekday - 1))
    return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
}

// Totals counts open records per type. The unknown bucket is excluded here
// on purpose: fetch keeps unknown representable, totals do not report it.
func Totals(open []domain.PullRequestRecord) domain.Totals {
    var t domain.Totals
    for _, r := range open {
        switch r.Type {
        case domain.TypePlugin:
            t.ByPlugin++
        case domain.TypeTheme:
            t.ByTheme++
        default:
            continue // explicit: unknown never reaches the totals
        }
        t.Total++
    }
    return t
}

// WaitEstimate estimates days-to-merge for one record type from merges
// inside the trailing velocity window. A point estimate alone overstates
// precision for a human-driven process, so the mean is bracketed by one
// population standard deviation, and the variance flag marks when the
// steady-throughput assumption looks broken. Zero throughput or no samples
// leaves all three numbers nil (unknown wait, rendered by the consumer).
func WaitEstimate(merged []domain.MergedRecord, typ domain.RecordType, now time.Time, p Params) domain.WaitEstimate {
    p = p.withDefaults()
    cutoff := now.Add(-time.Duration(p.VelocityWeeks) * 7 * 24 * time.Hour)
    var window []domain.MergedRecord
    for _, m := range merged {
        if m.Type == typ && !m.MergedAt.Before(cutoff) { window = append(window, m) }
    }
    throughput := float64(len(window)) / float64(p.VelocityWeeks)
    if throughput <= 0 || len(window) == 0 { return domain.WaitEstimate{} }

    // most recent up to WaitSampleSize merges
    sort.Slice(window, func(i, j int) bool { return window[i].MergedAt.After(window[j].MergedAt) })
    if len(window) > p.WaitSampleSize { window = window[:p.WaitSampleSize] }

    sum := 0.0
    for _, m := range window { sum += float64(m.DaysToMerge) }
    mean := sum / float64(len(window))
    varsum := 0.0
    for _, m := range window {
        d := float64(m.DaysToMerge) - mean
        varsum += d * d
    }
    std := math.Sqrt(varsum / float64(len(window))) // population, not sample

    est := int(math.Round(mean))
    lower := int(math.Round(mean - std))
    if lower < 0 { lower = 0 }
    upper := int(math.Round(mean + std))
    return domain.WaitEstimate{
        EstimatedDays:  &est,
        RangeLowerDays: &lower,
        RangeUpperDays: &upper,
        HighVariance:   mean > 0 && std/mean > 0.5,
    }
}

// Weekly buckets merges into Monday-aligned weeks over the trailing window.
// Buckets are sparse: a week appears only if some record fell into it.
func Weekly(merged []domain.MergedRecord, now time.Time, p Params) domain.WeeklyAggregate {
    p = p.withDefaults()
    cutoff := weekStart(now).AddDate(0, 0, -7*(p.VelocityWeeks-1))
    type counts struct{ plugins, themes int }
    buckets := map[time.Time]*counts{}
    for _, m := range merged {
        if m.MergedAt.Before(cutoff) { continue }
        wk := weekStart(m.MergedAt)
        b := buckets[wk]
        if b == nil { b = &counts{}; buckets[wk] = b }
        switch m.Type {
        case domain.TypePlugin:
            b.plugins++
        case domain.TypeTheme:
            b.themes++
        }
    }
    weeks := make([]time.Time, 0, len(buckets))
    for wk := range buckets { weeks = append(weeks, wk) }
    sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })
    agg := domain.WeeklyAggregate{
        WeekStarts: weeks,
        Plugins:    make([]int, len(weeks)),
        Themes:     make([]int, len(weeks)),
    }
    for i, wk := range weeks {
        agg.Plugins[i] = buckets[wk].plugins
        agg.Themes[i] = buckets[wk].themes
    }
    return agg
}

// Build assembles the derived portion of a Summary from the raw sets. The
// orchestrator fills in pointers, the ETag and the merge watermark.
func Build(open []domain.PullRequestRecord, merged []domain.MergedRecord, now time.Time, p Params) domain.Summary {
    return domain.Summary{
        CheckedAt:  now.UTC(),
        Totals:     Totals(open),
        PluginWait: WaitEstimate(merged, domain.TypePlugin, now, p),
        ThemeWait:  WaitEstimate(merged, domain.TypeTheme, now, p),
        Weekly:     Weekly(merged, now, p),
    }
}
