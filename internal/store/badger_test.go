package store

import (
    "bytes"
    "context"
    "testing"
    "time"

    "github.com/rs/zerolog"
)

func newBadger(t *testing.T) *Badger {
    t.Helper()
    b, err := OpenBadger("", zerolog.Nop())
    if err != nil {
        t.Fatalf("open badger: %v", err)
    }
    t.Cleanup(func() { _ = b.Close() })
    return b
}

func TestBadgerPutGetRoundTrip(t *testing.T) {
    b := newBadger(t)
    ctx := context.Background()

    if err := b.Put(ctx, "k1", []byte("hello")); err != nil {
        t.Fatalf("put: %v", err)
    }
    got, ok, err := b.Get(ctx, "k1")
    if err != nil || !ok {
        t.Fatalf("get: ok=%v err=%v", ok, err)
    }
    if !bytes.Equal(got, []byte("hello")) {
        t.Fatalf("got %q", got)
    }
}

func TestBadgerGetMissing(t *testing.T) {
    b := newBadger(t)
    _, ok, err := b.Get(context.Background(), "nope")
    if err != nil {
        t.Fatalf("get: %v", err)
    }
    if ok {
        t.Fatal("expected miss")
    }
}

func TestBadgerEmptyValueRoundTrip(t *testing.T) {
    b := newBadger(t)
    ctx := context.Background()
    if err := b.Put(ctx, "empty", nil); err != nil {
        t.Fatalf("put: %v", err)
    }
    got, ok, err := b.Get(ctx, "empty")
    if err != nil || !ok {
        t.Fatalf("get: ok=%v err=%v", ok, err)
    }
    if len(got) != 0 {
        t.Fatalf("expected empty value, got %q", got)
    }
}

func TestBadgerDelete(t *testing.T) {
    b := newBadger(t)
    ctx := context.Background()
    if err := b.Put(ctx, "gone", []byte("x")); err != nil {
        t.Fatalf("put: %v", err)
    }
    if err := b.Delete(ctx, "gone"); err != nil {
        t.Fatalf("delete: %v", err)
    }
    _, ok, err := b.Get(ctx, "gone")
    if err != nil {
        t.Fatalf("get: %v", err)
    }
    if ok {
        t.Fatal("key survived delete")
    }
    // deleting a missing key is not an error
    if err := b.Delete(ctx, "gone"); err != nil {
        t.Fatalf("second delete: %v", err)
    }
}

func TestBadgerListPrefix(t *testing.T) {
    b := newBadger(t)
    ctx := context.Background()
    before := time.Now().Add(-time.Second)

    for _, k := range []string{"ds:a:v:1", "ds:a:v:2", "ds:b:v:1"} {
        if err := b.Put(ctx, k, []byte("0123456789")); err != nil {
            t.Fatalf("put %s: %v", k, err)
        }
    }
    entries, err := b.List(ctx, "ds:a:v:")
    if err != nil {
        t.Fatalf("list: %v", err)
    }
    if len(entries) != 2 {
        t.Fatalf("expected 2 entries, got %d", len(entries))
    }
    for _, e := range entries {
        if e.SizeBytes != 10 {
            t.Errorf("%s: size=%d want 10", e.Key, e.SizeBytes)
        }
        if e.UpdatedAt.Before(before) || e.UpdatedAt.After(time.Now().Add(time.Second)) {
            t.Errorf("%s: implausible UpdatedAt %v", e.Key, e.UpdatedAt)
        }
    }
}

func TestBadgerListEmptyPrefix(t *testing.T) {
    b := newBadger(t)
    entries, err := b.List(context.Background(), "missing:")
    if err != nil {
        t.Fatalf("list: %v", err)
    }
    if len(entries) != 0 {
        t.Fatalf("expected no entries, got %d", len(entries))
    }
}
