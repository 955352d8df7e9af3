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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/database"
	"github.com/klaspay/klaspay/internal/cache"
	redis_db "github.com/klaspay/klaspay/internal/redis-db"
)

// Klaspay is the main service struct. It ties the dedup ledger and business
// store to the bounded processing queue and the Redis side-channels (locks,
// rate limit counters, metrics snapshots).
type Klaspay struct {
	queue      *Queue
	redis      redis.UniversalClient
	cache      cache.Cache
	metrics    *MetricsCollector
	datasource database.IDataSource
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewKlaspay initializes a new instance of Klaspay with the provided database
// datasource. It fetches the configuration and initializes the Redis client
// and the queue.
func NewKlaspay(db database.IDataSource) (*Klaspay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	newKlaspay := &Klaspay{datasource: db, queue: newQueue, redis: redisClient.Client(), cache: newCache}
	newKlaspay.metrics = NewMetricsCollector(newKlaspay)
	return newKlaspay, nil
}

// Queue exposes the processing queue, mainly for the monitoring surface.
func (k *Klaspay) Queue() *Queue {
	return k.queue
}

// RedisClient exposes the shared Redis client for components layered on top,
// like the per-caller rate limiter.
func (k *Klaspay) RedisClient() redis.UniversalClient {
	return k.redis
}
