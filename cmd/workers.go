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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"

	"github.com/klaspay/klaspay"
	"github.com/klaspay/klaspay/config"
	redis_db "github.com/klaspay/klaspay/internal/redis-db"
	"github.com/klaspay/klaspay/model"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// processPayment applies a payment notification pulled from the Redis queue.
// Permanent failures (amount mismatch, missing enrollment) are already parked
// as FAILED by the engine and must not be retried. Transient failures are
// retried by asynq until the retry budget runs out, at which point the record
// is parked as FAILED so the reconciliation sweep owns it.
func (k *klaspayInstance) processPayment(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("klaspay.payments.worker").Start(ctx, "Process Payment From Redis Queue")
	defer span.End()

	var notif model.PaymentNotification
	if err := json.Unmarshal(t.Payload(), &notif); err != nil {
		logrus.Error(err)
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	err = k.klaspay.ApplyPaymentNotification(ctx, &notif)
	if err != nil {
		if klaspay.IsPermanentFailure(err) {
			logrus.Infof("Payment %s rejected permanently: %v", notif.ResourceID, err)
			return nil
		}

		retryCount, _ := asynq.GetRetryCount(ctx)
		if retryCount >= cfg.Queue.MaxRetryAttempts {
			logrus.Errorf("Payment %s exhausted %d retries: %v", notif.ResourceID, retryCount, err)
			return k.klaspay.ParkFailedNotification(ctx, &notif, model.ReasonTransientFailure)
		}

		logrus.Infof("Payment %s pushed back for retry due to error: %v", notif.ResourceID, err)
		return err // This will trigger a retry
	}

	log.Println(" [*] Payment Processed", notif.ResourceID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Queue.WorkerConcurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(k *klaspayInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Register handlers for payment queues
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		mux.HandleFunc(queueName, k.processPayment)
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, klaspay.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker processes.
// Workers drain the payment queues, run the reconciliation sweep for stuck
// claims, and keep the metrics snapshot fresh.
func workerCommands(k *klaspayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start klaspay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			// Initialize queues
			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(k, mux)

			// Reclaim stuck claims and parked transient failures.
			recovery := klaspay.NewDedupRecoveryProcessor(k.klaspay)
			recovery.Start(ctx)
			defer recovery.Stop()

			metrics := k.klaspay.Metrics()
			metrics.Start(ctx)
			defer metrics.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			// Start worker server
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
