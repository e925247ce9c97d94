/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service, blobs blobReader) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc, blobs)

    r.GET("/healthz", h.Healthz)
    r.GET("/api/summary", h.GetSummary)
    r.GET("/api/datasets/:name/:version", h.GetDatasetBlob)
    r.POST("/admin/trigger", h.Trigger)
    r.GET("/admin/last-run", h.LastRun)

    return r
}
