package jobs

import (
    "context"
    "errors"
    "time"

    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/HamedShams/review-pulse/internal/ingest"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"
)

type service interface {
    Run(ctx context.Context, force bool) (*ingest.RunResult, error)
}

type notifier interface {
    NotifyFailure(ctx context.Context, msg string)
}

type Cron struct {
    cfg config.Config
    log zerolog.Logger
    svc service
    tg  notifier
    c   *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, tg notifier) *Cron {
    loc, err := time.LoadLocation(cfg.TZ)
    if err != nil { loc = time.Local }
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, log: log, svc: svc, tg: tg, c: c}
    _, _ = c.AddFunc(cfg.IngestCron, cr.tick)
    return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// tick runs one scheduled ingestion. A failed run is reported and dropped;
// the next tick starts clean rather than retry-looping the scheduler.
func (cr *Cron) tick() {
    ctx, cancel := context.WithTimeout(context.Background(), cr.cfg.RunTimeout+30*time.Second); defer cancel()
    cr.log.Info().Msg("cron: ingest tick")
    _, err := cr.svc.Run(ctx, false)
    if err != nil {
        if errors.Is(err, ingest.ErrRunInProgress) { cr.log.Info().Msg("cron: run already in progress, skipping tick"); return }
        cr.log.Error().Err(err).Msg("cron: ingest failed")
        if cr.tg != nil { cr.tg.NotifyFailure(ctx, "review-pulse ingest failed: "+err.Error()) }
    }
}
