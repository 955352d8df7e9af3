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
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const metricsSnapshotKey = "klaspay:metrics:snapshot"

// MetricsSnapshot is a point-in-time view of the engine's health: the queue
// backlog, the shape of the dedup ledger, and the running admission counters.
type MetricsSnapshot struct {
	QueueDepth  int              `json:"queue_depth"`
	DedupStates map[string]int64 `json:"dedup_states"`
	Accepted    uint64           `json:"accepted"`
	Duplicates  uint64           `json:"duplicates"`
	Rejected    uint64           `json:"rejected"`
	Throttled   uint64           `json:"throttled"`
	Overflowed  uint64           `json:"overflowed"`
	CollectedAt time.Time        `json:"collected_at"`
}

// MetricsCollector maintains admission counters and periodically folds them
// together with queue depth and ledger counts into an immutable snapshot.
// Reads never block writers: the snapshot is swapped atomically.
type MetricsCollector struct {
	klaspay  *Klaspay
	snapshot atomic.Value

	accepted   atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	throttled  atomic.Uint64
	overflowed atomic.Uint64

	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewMetricsCollector(klaspay *Klaspay) *MetricsCollector {
	c := &MetricsCollector{
		klaspay:      klaspay,
		pollInterval: 15 * time.Second,
		stopCh:       make(chan struct{}),
	}
	c.snapshot.Store(&MetricsSnapshot{DedupStates: map[string]int64{}, CollectedAt: time.Now()})
	return c
}

func (c *MetricsCollector) CountAccepted()   { c.accepted.Add(1) }
func (c *MetricsCollector) CountDuplicate()  { c.duplicates.Add(1) }
func (c *MetricsCollector) CountRejected()   { c.rejected.Add(1) }
func (c *MetricsCollector) CountThrottled()  { c.throttled.Add(1) }
func (c *MetricsCollector) CountOverflowed() { c.overflowed.Add(1) }

// Snapshot returns the most recently collected snapshot.
func (c *MetricsCollector) Snapshot() *MetricsSnapshot {
	return c.snapshot.Load().(*MetricsSnapshot)
}

func (c *MetricsCollector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(ctx)
			}
		}
	}()

	logrus.Info("Metrics collector started")
}

func (c *MetricsCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *MetricsCollector) collect(ctx context.Context) {
	depth, err := c.klaspay.queue.Depth()
	if err != nil {
		logrus.Errorf("metrics: queue depth error: %v", err)
	}

	states, err := c.klaspay.datasource.CountDedupByState(ctx)
	if err != nil {
		logrus.Errorf("metrics: dedup counts error: %v", err)
		states = map[string]int64{}
	}

	snap := &MetricsSnapshot{
		QueueDepth:  depth,
		DedupStates: states,
		Accepted:    c.accepted.Load(),
		Duplicates:  c.duplicates.Load(),
		Rejected:    c.rejected.Load(),
		Throttled:   c.throttled.Load(),
		Overflowed:  c.overflowed.Load(),
		CollectedAt: time.Now(),
	}
	c.snapshot.Store(snap)

	if c.klaspay.cache != nil {
		if err := c.klaspay.cache.Set(ctx, metricsSnapshotKey, snap, 5*time.Minute); err != nil {
			logrus.Errorf("metrics: snapshot cache error: %v", err)
		}
	}
}

// Metrics exposes the collector so the API layer can count admission
// outcomes and serve the snapshot.
func (k *Klaspay) Metrics() *MetricsCollector {
	return k.metrics
}
