package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/core/service"
	"github.com/quarterhill/stockledger/internal/port"
)

// Scheduler periodically rebuilds cached summaries for recently active items
// so reporting reads rarely pay the full ledger fold. The cache stays a pure
// optimization: every append invalidates it, and a miss falls back to the
// authoritative fold.
type Scheduler struct {
	cron     *cron.Cron
	ledger   port.LedgerRepository
	agg      *service.Aggregator
	schedule string
	logger   *zap.Logger
}

func New(ledger port.LedgerRepository, agg *service.Aggregator, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		ledger:   ledger,
		agg:      agg,
		schedule: schedule,
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.warmSummaries); err != nil {
		s.logger.Error("failed to schedule summary warm", zap.Error(err))
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule))
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) warmSummaries() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := s.ledger.ActiveItemIDs(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("failed to list active items", zap.Error(err))
		return
	}

	warmed := 0
	for _, id := range ids {
		if err := s.agg.RefreshSummary(ctx, id); err != nil {
			s.logger.Warn("failed to warm summary", zap.String("item_id", id), zap.Error(err))
			continue
		}
		warmed++
	}
	s.logger.Info("summaries warmed", zap.Int("count", warmed), zap.Int("candidates", len(ids)))
}
