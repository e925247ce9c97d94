/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package store defines the durable string-keyed boundary the cache sits on:
// get/put/delete plus prefix listing. No transactions and no conditional
// writes; correctness above this layer relies on single-writer-per-run
// discipline, not storage atomicity.
package store

import (
    "context"
    "time"
)

// Entry describes a stored key during prefix listing. Values are not
// returned by List; callers Get the ones they need.
type Entry struct {
    Key       string
    SizeBytes int64
    UpdatedAt time.Time
}

type KV interface {
    // Get returns (value, true, nil) when the key exists.
    Get(ctx context.Context, key string) ([]byte, bool, error)
    Put(ctx context.Context, key string, value []byte) error
    Delete(ctx context.Context, key string) error
    List(ctx context.Context, prefix string) ([]Entry, error)
    Close() error
}
