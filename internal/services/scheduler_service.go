package services

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"
)

// SettlementScheduler drives time-based state: it completes transfers whose
// settlement window has elapsed and releases approved check deposits whose
// hold is over. Each item is its own transaction so one failure never stalls
// the rest of the sweep.
type SettlementScheduler struct {
	transfers *TransferService
	deposits  *CheckDepositService
	interval  time.Duration
}

type SweepResult struct {
	TransfersSettled  int
	DepositsCompleted int
	Failed            int
}

func NewSettlementScheduler(transfers *TransferService, deposits *CheckDepositService) *SettlementScheduler {
	viper.SetDefault("scheduler.sweep_interval", 30*time.Second)
	return &SettlementScheduler{
		transfers: transfers,
		deposits:  deposits,
		interval:  viper.GetDuration("scheduler.sweep_interval"),
	}
}

// RunSweep processes everything currently due. Safe to call concurrently
// with API traffic; row locks and guarded status updates make a transfer
// cancelled mid-sweep a no-op here.
func (s *SettlementScheduler) RunSweep() SweepResult {
	var result SweepResult

	refs, err := s.transfers.DueForSettlement()
	if err != nil {
		log.Printf("[SCHEDULER] listing due transfers: %v", err)
		result.Failed++
	}
	for _, ref := range refs {
		settled, err := s.transfers.AutoProcessIfReady(ref)
		if err != nil {
			log.Printf("[SCHEDULER] settle %s: %v", ref, err)
			result.Failed++
			continue
		}
		if settled {
			result.TransfersSettled++
		}
	}

	depositRefs, err := s.deposits.ReadyForCompletion()
	if err != nil {
		log.Printf("[SCHEDULER] listing matured deposits: %v", err)
		result.Failed++
	}
	for _, ref := range depositRefs {
		if err := s.deposits.Complete(ref, false); err != nil {
			log.Printf("[SCHEDULER] complete deposit %s: %v", ref, err)
			result.Failed++
			continue
		}
		result.DepositsCompleted++
	}

	if result.TransfersSettled > 0 || result.DepositsCompleted > 0 || result.Failed > 0 {
		log.Printf("[SCHEDULER] sweep done: %d transfers settled, %d deposits completed, %d failures",
			result.TransfersSettled, result.DepositsCompleted, result.Failed)
	}
	return result
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *SettlementScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[SCHEDULER] started, sweeping every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SCHEDULER] stopped")
			return
		case <-ticker.C:
			s.RunSweep()
		}
	}
}
