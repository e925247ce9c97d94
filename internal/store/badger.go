/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package store

import (
    "context"
    "encoding/binary"
    "errors"
    "fmt"
    "os"
    "time"

    "github.com/dgraph-io/badger/v4"
    "github.com/rs/zerolog"
)

// Badger is the embedded backend for single-node deployments and tests.
// Values carry an 8-byte big-endian unixnano write-time header so List can
// report UpdatedAt; Get strips it, so callers always see exactly what they
// Put.
type Badger struct {
    db  *badger.DB
    log zerolog.Logger
}

const badgerHeaderLen = 8

// OpenBadger opens (creating if needed) a Badger database at path. An empty
// path opens an in-memory database, which is what the tests use.
func OpenBadger(path string, log zerolog.Logger) (*Badger, error) {
    var opts badger.Options
    if path == "" {
        opts = badger.DefaultOptions("").WithInMemory(true)
    } else {
        if err := os.MkdirAll(path, 0o755); err != nil { return nil, fmt.Errorf("badger mkdir: %w", err) }
        opts = badger.DefaultOptions(path)
    }
    opts = opts.WithLogger(nil)
    db, err := badger.Open(opts)
    if err != nil { return nil, fmt.Errorf("badger open: %w", err) }
    return &Badger{db: db, log: log}, nil
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, bool, error) {
    var out []byte
    err := b.db.View(func(txn *badger.Txn) error {
        item, err := txn.Get([]byte(key))
        if err != nil { return err }
        return item.Value(func(val []byte) error {
            if len(val) < badgerHeaderLen { return fmt.Errorf("badger: short value for %s", key) }
            out = append([]byte(nil), val[badgerHeaderLen:]...)
            return nil
        })
    })
    if errors.Is(err, badger.ErrKeyNotFound) { return nil, false, nil }
    if err != nil { return nil, false, err }
    return out, true, nil
}

func (b *Badger) Put(ctx context.Context, key string, value []byte) error {
    buf := make([]byte, badgerHeaderLen+len(value))
    binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
    copy(buf[badgerHeaderLen:], value)
    return b.db.Update(func(txn *badger.Txn) error {
        return txn.Set([]byte(key), buf)
    })
}

func (b *Badger) Delete(ctx context.Context, key string) error {
    return b.db.Update(func(txn *badger.Txn) error {
        return txn.Delete([]byte(key))
    })
}

func (b *Badger) List(ctx context.Context, prefix string) ([]Entry, error) {
    var out []Entry
    err := b.db.View(func(txn *badger.Txn) error {
        it := txn.NewIterator(badger.DefaultIteratorOptions)
        defer it.Close()
        p := []byte(prefix)
        for it.Seek(p); it.ValidForPrefix(p); it.Next() {
            item := it.Item()
            e := Entry{Key: string(item.KeyCopy(nil))}
            if err := item.Value(func(val []byte) error {
                if len(val) >= badgerHeaderLen {
                    e.UpdatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
                    e.SizeBytes = int64(len(val) - badgerHeaderLen)
                }
                return nil
            }); err != nil { return err }
            out = append(out, e)
        }
        return nil
    })
    if err != nil { return nil, err }
    return out, nil
}

func (b *Badger) Close() error { return b.db.Close() }
