/*
Copyright 2025 Klaspay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package klaspay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/internal/notification"
	"github.com/klaspay/klaspay/model"
)

// DedupRecoveryProcessor periodically sweeps the dedup ledger for claims that
// never reached a terminal state and for transient failures that still have
// retry budget. Each sweep is bounded in batch size and attempts per record;
// a record that exhausts its budget is failed permanently rather than cycling
// forever.
type DedupRecoveryProcessor struct {
	klaspay        *Klaspay
	batchSize      int
	maxWorkers     int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	maxAttempts    int
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewDedupRecoveryProcessor(klaspay *Klaspay) *DedupRecoveryProcessor {
	maxWorkers := 10
	pollInterval := 30 * time.Second
	stuckThreshold := 10 * time.Minute
	maxAttempts := 1

	cfg, err := config.Fetch()
	if err == nil {
		if cfg.Queue.WorkerConcurrency > 0 {
			maxWorkers = cfg.Queue.WorkerConcurrency
		}
		if cfg.Sweep.IntervalSec > 0 {
			pollInterval = time.Duration(cfg.Sweep.IntervalSec) * time.Second
		}
		if cfg.Sweep.StuckThresholdMin > 0 {
			stuckThreshold = time.Duration(cfg.Sweep.StuckThresholdMin) * time.Minute
		}
		if cfg.Sweep.MaxAttempts > 0 {
			maxAttempts = cfg.Sweep.MaxAttempts
		}
	}

	return &DedupRecoveryProcessor{
		klaspay:        klaspay,
		batchSize:      maxWorkers * 100,
		maxWorkers:     maxWorkers,
		pollInterval:   pollInterval,
		stuckThreshold: stuckThreshold,
		maxAttempts:    maxAttempts,
		stopCh:         make(chan struct{}),
	}
}

func (p *DedupRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Dedup recovery processor started")
}

func (p *DedupRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Dedup recovery processor stopped")
}

func (p *DedupRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *DedupRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Dedup recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Dedup recovery processor stop signal received")
			return
		case <-ticker.C:
			p.recoverWithThreshold(ctx, p.stuckThreshold)
		}
	}
}

// RecoverStuckNotifications triggers an immediate sweep using the provided
// threshold. This is exposed for the manual trigger API endpoint.
func (k *Klaspay) RecoverStuckNotifications(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewDedupRecoveryProcessor(k)
	return processor.recoverWithThreshold(ctx, threshold), nil
}

func (p *DedupRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) int {
	stuckRecords, err := p.klaspay.datasource.GetStuckDedupRecords(ctx, threshold, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stuck dedup records: %v", err)
		return 0
	}

	if len(stuckRecords) == 0 {
		return 0
	}

	logrus.Infof("Processing %d stuck dedup records with %d workers (threshold=%v)", len(stuckRecords), p.maxWorkers, threshold)

	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for _, record := range stuckRecords {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(r *model.DedupRecord) {
			defer batchWg.Done()
			defer func() { <-sem }()
			if err := p.processStuckRecord(ctx, r); err != nil {
				logrus.Errorf("failed to process stuck record %s: %v", r.ResourceID, err)
			}
		}(record)
	}

	batchWg.Wait()
	return len(stuckRecords)
}

// processStuckRecord re-opens a stuck or transiently failed record and pushes
// its notification back through the queue. ClaimCount tracks how many times
// the record has been claimed overall; once the retry budget is spent, the
// record is failed permanently and subscribers are told.
func (p *DedupRecoveryProcessor) processStuckRecord(ctx context.Context, record *model.DedupRecord) error {
	if record.ClaimCount > p.maxAttempts {
		return p.exhaustRecord(ctx, record)
	}

	notif, err := p.klaspay.queue.GetNotificationFromQueue(record.ResourceID)
	if err != nil {
		return err
	}
	if notif == nil {
		// The task is gone from the queue entirely; without the payload there
		// is nothing left to replay.
		logrus.Warnf("Stuck record %s has no queued task to recover", record.ResourceID)
		return p.exhaustRecord(ctx, record)
	}

	reclaimed, err := p.klaspay.datasource.ReclaimForRetry(ctx, record.ResourceID)
	if err != nil {
		return err
	}
	if !reclaimed {
		// Completed in the window between the sweep query and now.
		return nil
	}

	if err := p.klaspay.ApplyPaymentNotification(ctx, notif); err != nil {
		if IsPermanentFailure(err) {
			return nil
		}
		return err
	}

	logrus.Infof("Successfully recovered stuck notification %s", record.ResourceID)
	return nil
}

func (p *DedupRecoveryProcessor) exhaustRecord(ctx context.Context, record *model.DedupRecord) error {
	if record.State == model.StateFailed {
		// Re-open first so the terminal transition below can apply.
		reclaimed, err := p.klaspay.datasource.ReclaimForRetry(ctx, record.ResourceID)
		if err != nil || !reclaimed {
			return err
		}
	}

	logrus.Warnf("Stuck record %s exceeded max recovery attempts (%d), failing permanently", record.ResourceID, p.maxAttempts)
	if _, _, err := p.klaspay.datasource.MarkDedupComplete(ctx, record.ResourceID, model.StateFailed, model.ReasonRetriesExhausted); err != nil {
		return err
	}
	notification.NotifyError(fmt.Errorf("payment %s failed permanently: recovery attempts exhausted", record.ResourceID))

	return SendWebhook(NewWebhook{
		Event: "payment.failed",
		Payload: map[string]interface{}{
			"resource_id": record.ResourceID,
			"reason":      model.ReasonRetriesExhausted,
		},
	})
}
