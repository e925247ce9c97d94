/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "errors"
    "net/http"

    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/domain"
    "github.com/HamedShams/review-pulse/internal/ingest"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

type service interface {
    Run(ctx context.Context, force bool) (*ingest.RunResult, error)
    Summary(ctx context.Context) (*domain.Summary, error)
    LastRun(ctx context.Context) (*domain.RunRecord, bool, error)
}

type blobReader interface {
    ReadBlob(ctx context.Context, name, version string) ([]byte, bool, error)
}

type Handlers struct {
    cfg   config.Config
    log   zerolog.Logger
    svc   service
    blobs blobReader
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service, blobs blobReader) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc, blobs: blobs}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) GetSummary(c *gin.Context) {
    s, err := h.svc.Summary(c.Request.Context())
    if err != nil {
        if errors.Is(err, ingest.ErrNotReady) {
            c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not ready"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, s)
}

// GetDatasetBlob serves one immutable version. Safe to cache forever: a
// version never changes once written.
func (h *Handlers) GetDatasetBlob(c *gin.Context) {
    name := c.Param("name")
    version := c.Param("version")
    raw, ok, err := h.blobs.ReadBlob(c.Request.Context(), name, version)
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if !ok {
        c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
        return
    }
    c.Header("Cache-Control", "public, max-age=31536000, immutable")
    c.Data(http.StatusOK, "application/json", raw)
}

// Trigger runs one ingestion pass synchronously and returns its result, so
// the caller gets the structured run outcome rather than a fire-and-forget
// acknowledgement.
func (h *Handlers) Trigger(c *gin.Context) {
    force := c.Query("force") == "1" || c.Query("force") == "true"
    res, err := h.svc.Run(c.Request.Context(), force)
    if err != nil {
        if errors.Is(err, ingest.ErrRunInProgress) {
            c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
            return
        }
        c.JSON(http.StatusInternalServerError, res)
        return
    }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) LastRun(c *gin.Context) {
    rec, ok, err := h.svc.LastRun(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    if !ok {
        c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
        return
    }
    c.JSON(http.StatusOK, rec)
}
