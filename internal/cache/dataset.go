/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package cache implements the two-tier content-addressable dataset cache:
// one mutable pointer per dataset name and immutable versioned blobs keyed
// by content hash. Writing the same content twice is a no-op at the blob
// layer; the pointer is the sole mutation point and is last-writer-wins.
package cache

import (
    "context"
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "regexp"
    "sort"
    "strings"
    "time"

    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/HamedShams/review-pulse/internal/store"
    "github.com/rs/zerolog"
)

// Dataset names and versions double as storage keys and URL path segments,
// so both are held to a strict character set.
var (
    nameRe    = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)
    versionRe = regexp.MustCompile(`^[a-f0-9]{16}$`)
)

const (
    ptrSuffix  = ":ptr"
    verInfix   = ":v:"
    keyPrefix  = "ds:"
)

type DatasetCache struct {
    kv      store.KV
    log     zerolog.Logger
    baseURL string
}

func New(kv store.KV, log zerolog.Logger, baseURL string) *DatasetCache {
    return &DatasetCache{kv: kv, log: log, baseURL: strings.TrimRight(baseURL, "/")}
}

// Version is the address of a content blob: first 16 hex chars of its
// sha256. Identical content always lands on the same version.
func Version(content []byte) string {
    sum := sha256.Sum256(content)
    return hex.EncodeToString(sum[:])[:16]
}

func ptrKey(name string) string { return keyPrefix + name + ptrSuffix }
func blobKey(name, version string) string { return keyPrefix + name + verInfix + version }

func validName(name string) error {
    if !nameRe.MatchString(name) { return fmt.Errorf("cache: invalid dataset name %q", name) }
    return nil
}

// Write stores content as an immutable blob (skipped when the version
// already exists) and then repoints the dataset at it. Returns the new
// pointer.
func (c *DatasetCache) Write(ctx context.Context, name string, content []byte) (*domain.DatasetPointer, error) {
    if err := validName(name); err != nil { return nil, err }
    version := Version(content)
    bk := blobKey(name, version)
    _, exists, err := c.kv.Get(ctx, bk)
    if err != nil { return nil, fmt.Errorf("cache: blob probe %s: %w", bk, err) }
    if !exists {
        if err := c.kv.Put(ctx, bk, content); err != nil { return nil, fmt.Errorf("cache: blob write %s: %w", bk, err) }
    }
    ptr := &domain.DatasetPointer{
        Dataset:     name,
        Version:     version,
        LocationURL: fmt.Sprintf("%s/api/datasets/%s/%s", c.baseURL, name, version),
        UpdatedAt:   time.Now().UTC(),
        SizeBytes:   int64(len(content)),
        ContentHash: version,
    }
    raw, err := json.Marshal(ptr)
    if err != nil { return nil, err }
    if err := c.kv.Put(ctx, ptrKey(name), raw); err != nil { return nil, fmt.Errorf("cache: pointer write %s: %w", name, err) }
    return ptr, nil
}

// Read resolves the current pointer and loads its blob. A malformed pointer
// or missing blob reads as a miss, not an error: ingestion regenerates on
// miss rather than crashing.
func (c *DatasetCache) Read(ctx context.Context, name string) ([]byte, *domain.DatasetPointer, bool, error) {
    if err := validName(name); err != nil { return nil, nil, false, err }
    raw, ok, err := c.kv.Get(ctx, ptrKey(name))
    if err != nil { return nil, nil, false, err }
    if !ok { return nil, nil, false, nil }
    var ptr domain.DatasetPointer
    if err := json.Unmarshal(raw, &ptr); err != nil {
        c.log.Warn().Err(err).Str("dataset", name).Msg("cache: malformed pointer, treating as miss")
        return nil, nil, false, nil
    }
    if !versionRe.MatchString(ptr.Version) {
        c.log.Warn().Str("dataset", name).Str("version", ptr.Version).Msg("cache: invalid pointer version, treating as miss")
        return nil, nil, false, nil
    }
    content, ok, err := c.kv.Get(ctx, blobKey(name, ptr.Version))
    if err != nil { return nil, nil, false, err }
    if !ok {
        c.log.Warn().Str("dataset", name).Str("version", ptr.Version).Msg("cache: dangling pointer, treating as miss")
        return nil, nil, false, nil
    }
    return content, &ptr, true, nil
}

// ReadBlob loads a specific immutable version, for direct retrieval by
// clients. Unknown versions read as a miss.
func (c *DatasetCache) ReadBlob(ctx context.Context, name, version string) ([]byte, bool, error) {
    if err := validName(name); err != nil { return nil, false, err }
    if !versionRe.MatchString(version) { return nil, false, fmt.Errorf("cache: invalid version %q", version) }
    return c.kv.Get(ctx, blobKey(name, version))
}

// Prune deletes old blob versions, keeping the one the current pointer
// references plus the most recently written retain-1 others. The pointed-at
// version survives even when it is the oldest of all.
func (c *DatasetCache) Prune(ctx context.Context, name string, retain int) (int, error) {
    if err := validName(name); err != nil { return 0, err }
    if retain < 1 { retain = 1 }
    current := ""
    if raw, ok, err := c.kv.Get(ctx, ptrKey(name)); err == nil && ok {
        var ptr domain.DatasetPointer
        if json.Unmarshal(raw, &ptr) == nil { current = ptr.Version }
    }
    entries, err := c.kv.List(ctx, keyPrefix+name+verInfix)
    if err != nil { return 0, err }
    sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
    keep := map[string]bool{}
    if current != "" { keep[blobKey(name, current)] = true }
    for _, e := range entries {
        if len(keep) >= retain { break }
        keep[e.Key] = true
    }
    deleted := 0
    for _, e := range entries {
        if keep[e.Key] { continue }
        if err := c.kv.Delete(ctx, e.Key); err != nil {
            c.log.Warn().Err(err).Str("key", e.Key).Msg("cache: prune delete failed")
            continue
        }
        deleted++
    }
    return deleted, nil
}
