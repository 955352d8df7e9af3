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
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/klaspay/klaspay/config"
	redis_db "github.com/klaspay/klaspay/internal/redis-db"
	"github.com/klaspay/klaspay/model"
)

// Queue wraps the asynq client and inspector backing the bounded processing
// queue between webhook admission and the worker pool.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Depth returns the number of notifications currently pending or retrying
// across all payment queues.
func (q *Queue) Depth() (int, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	total := 0
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		info, err := q.Inspector.GetQueueInfo(queueName)
		if err != nil {
			// A queue that has never seen a task does not exist yet.
			continue
		}
		total += info.Pending + info.Retry + info.Scheduled
	}
	return total, nil
}

// Enqueue routes a claimed notification to its payment queue. The capacity
// bound is enforced by the ingest path before the claim is taken, so Enqueue
// never bounces an admitted notification and sweep replays are not blocked by
// a full backlog.
func (q *Queue) Enqueue(ctx context.Context, notification *model.PaymentNotification) error {
	ctx, span := tracer.Start(ctx, "Adding payment notification to queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.getTask(cfg, notification, payload), asynq.MaxRetry(cfg.Queue.MaxRetryAttempts))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payment notification: %+v", notification.ResourceID)

	return nil
}

// getTask generates a task for a notification and assigns it to a specific
// queue based on the resource id. All deliveries for the same resource hash
// to the same queue and carry the same task id, so asynq processes them
// serially and collapses concurrent duplicates at the queue layer as well.
func (q *Queue) getTask(cfg *config.Configuration, notification *model.PaymentNotification, payload []byte) *asynq.Task {
	queueIndex := hashResourceID(notification.ResourceID) % cfg.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, queueIndex+1)

	taskOptions := []asynq.Option{asynq.TaskID(notification.ResourceID), asynq.Queue(queueName)}
	return asynq.NewTask(queueName, payload, taskOptions...)
}

// hashResourceID returns a consistent hash value for a resource id.
func hashResourceID(resourceID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(resourceID))
	return int(hasher.Sum32())
}

// GetNotificationFromQueue retrieves a pending notification from the queue by
// its resource id.
func (q *Queue) GetNotificationFromQueue(resourceID string) (*model.PaymentNotification, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, resourceID)
		if err == nil && task != nil {
			var notification model.PaymentNotification
			if err := json.Unmarshal(task.Payload, &notification); err != nil {
				return nil, err
			}
			return &notification, nil
		}
	}
	return nil, nil
}
