/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import "time"

// RecordType classifies a queue entry by its submission label.
type RecordType string

const (
    TypePlugin  RecordType = "plugin"
    TypeTheme   RecordType = "theme"
    TypeUnknown RecordType = "unknown"
)

// PullRequestRecord is one entry of the open review queue. Immutable once
// produced by a fetch pass.
type PullRequestRecord struct {
    ID        int64      `json:"id"`
    Title     string     `json:"title"`
    URL       string     `json:"url"`
    Type      RecordType `json:"type"`
    CreatedAt time.Time  `json:"createdAt"`
}

// MergedRecord is a completed review. Ghost merges (no commits or no changed
// files) are excluded at construction and never stored.
type MergedRecord struct {
    PullRequestRecord
    MergedAt    time.Time `json:"mergedAt"`
    DaysToMerge int       `json:"daysToMerge"`
}

// DatasetPointer names which immutable blob version is current for a dataset.
// One per dataset name, overwritten in place, never versioned itself.
type DatasetPointer struct {
    Dataset     string    `json:"dataset"`
    Version     string    `json:"version"`
    LocationURL string    `json:"locationUrl"`
    UpdatedAt   time.Time `json:"updatedAt"`
    SizeBytes   int64     `json:"sizeBytes"`
    ContentHash string    `json:"contentHash"`
}

type Totals struct {
    Total    int `json:"total"`
    ByPlugin int `json:"byPlugin"`
    ByTheme  int `json:"byTheme"`
}

// WaitEstimate is a point estimate plus an uncertainty range. All three
// numbers are nil when throughput in the velocity window is zero: the wait
// is unknown, and rendering that is the consumer's job.
type WaitEstimate struct {
    EstimatedDays  *int `json:"estimatedDays"`
    RangeLowerDays *int `json:"rangeLowerDays"`
    RangeUpperDays *int `json:"rangeUpperDays"`
    HighVariance   bool `json:"highVariance"`
}

// WeeklyAggregate holds parallel arrays of week starts (Monday 00:00 UTC)
// and per-type merge counts. Weeks with no merges are omitted, not
// zero-filled; consumers must handle gaps.
type WeeklyAggregate struct {
    WeekStarts []time.Time `json:"weekStarts"`
    Plugins    []int       `json:"plugins"`
    Themes     []int       `json:"themes"`
}

// Summary is the single mutable top-level record, replaced whole at the end
// of a successful ingestion run. A crashed or failed run leaves the previous
// one untouched.
//
// Queue position (oldest createdAt = front) assumes reviews happen roughly
// in creation order. Nothing measures or enforces that; it is a product
// assumption, not an invariant.
type Summary struct {
    CheckedAt      time.Time       `json:"checkedAt"`
    OpenSetETag    string          `json:"openSetEtag,omitempty"`
    LatestMergedAt *time.Time      `json:"latestMergedAt,omitempty"`
    Totals         Totals          `json:"totals"`
    PluginWait     WaitEstimate    `json:"pluginWait"`
    ThemeWait      WaitEstimate    `json:"themeWait"`
    Weekly         WeeklyAggregate `json:"weekly"`
    OpenSet        *DatasetPointer `json:"openSet,omitempty"`
    MergedSet      *DatasetPointer `json:"mergedSet,omitempty"`
}

// RunRecord is the bookkeeping row for the most recent ingestion run.
type RunRecord struct {
    StartedAt        time.Time `json:"startedAt"`
    FinishedAt       time.Time `json:"finishedAt"`
    OK               bool      `json:"ok"`
    Forced           bool      `json:"forced"`
    SummaryUpdated   bool      `json:"summaryUpdated"`
    OpenSetUpdated   bool      `json:"openSetUpdated"`
    MergedSetUpdated bool      `json:"mergedSetUpdated"`
    Error            string    `json:"error,omitempty"`
}
