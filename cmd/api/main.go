/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/HamedShams/review-pulse/internal/adapters/github"
    "github.com/HamedShams/review-pulse/internal/adapters/telegram"
    "github.com/HamedShams/review-pulse/internal/cache"
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/fetch"
    httpx "github.com/HamedShams/review-pulse/internal/http"
    "github.com/HamedShams/review-pulse/internal/ingest"
    "github.com/HamedShams/review-pulse/internal/jobs"
    "github.com/HamedShams/review-pulse/internal/logger"
    "github.com/HamedShams/review-pulse/internal/store"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Durable store
    var kv store.KV
    switch cfg.StoreBackend {
    case "postgres":
        kv = store.MustOpenPostgres(ctx, cfg.DBDSN, log)
    default:
        b, err := store.OpenBadger(cfg.BadgerPath, log)
        if err != nil { log.Fatal().Err(err).Msg("badger open failed") }
        kv = b
    }
    defer kv.Close()

    // Adapters
    gh, err := github.NewClient(cfg, log)
    if err != nil { log.Fatal().Err(err).Msg("github client init failed") }
    tg := telegram.NewClient(cfg, log)

    // Core
    dc := cache.New(kv, log, cfg.PublicBaseURL)
    open := fetch.NewOpenFetcher(cfg, log, gh)
    merged := fetch.NewMergedFetcher(cfg, log, gh)
    orch := ingest.New(cfg, log, kv, dc, open, merged)

    // HTTP server (Gin)
    router := httpx.NewRouter(cfg, log, orch, dc)

    // Cron
    cron := jobs.NewCron(cfg, log, orch, tg)
    cron.Start()
    defer cron.Stop()

    // graceful shutdown
    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
