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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"KLASPAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"KLASPAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"KLASPAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"KLASPAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"KLASPAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"KLASPAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"KLASPAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"KLASPAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"KLASPAY_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig drives the bounded processing queue and its workers.
// Capacity is the admission bound across all payment queues; enqueues past it
// are rejected so that memory and latency stay bounded under burst.
type QueueConfig struct {
	PaymentQueue      string `json:"payment_queue" envconfig:"KLASPAY_QUEUE_PAYMENT"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"KLASPAY_QUEUE_WEBHOOK"`
	NumberOfQueues    int    `json:"number_of_queues" envconfig:"KLASPAY_QUEUE_NUMBER_OF_QUEUES"`
	Capacity          int    `json:"capacity" envconfig:"KLASPAY_QUEUE_CAPACITY"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"KLASPAY_QUEUE_WORKER_CONCURRENCY"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"KLASPAY_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"KLASPAY_QUEUE_MONITORING_PORT"`
}

// IngestConfig bounds the synchronous work done on the webhook hot path.
type IngestConfig struct {
	ClaimTimeoutMs int `json:"claim_timeout_ms" envconfig:"KLASPAY_INGEST_CLAIM_TIMEOUT_MS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"KLASPAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"KLASPAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"KLASPAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
	WindowSec          int      `json:"window_sec" envconfig:"KLASPAY_RATE_LIMIT_WINDOW_SEC"`
	MaxPerWindow       int      `json:"max_per_window" envconfig:"KLASPAY_RATE_LIMIT_MAX_PER_WINDOW"`
}

// SweepConfig controls the reconciliation sweep that revisits claims which
// never reached a terminal state.
type SweepConfig struct {
	IntervalSec       int `json:"interval_sec" envconfig:"KLASPAY_SWEEP_INTERVAL_SEC"`
	StuckThresholdMin int `json:"stuck_threshold_min" envconfig:"KLASPAY_SWEEP_STUCK_THRESHOLD_MIN"`
	MaxAttempts       int `json:"max_attempts" envconfig:"KLASPAY_SWEEP_MAX_ATTEMPTS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"KLASPAY_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"KLASPAY_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Ingest          IngestConfig     `json:"ingest"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Sweep           SweepConfig      `json:"sweep"`
	Notification    Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("klaspay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called klaspay.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Klaspay Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.PaymentQueue == "" {
		cnf.Queue.PaymentQueue = "new:payment"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.Capacity <= 0 {
		cnf.Queue.Capacity = 10000
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 10
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5403"
	}

	if cnf.Ingest.ClaimTimeoutMs <= 0 {
		// The claim round-trip must never hold the processor's HTTP call hostage.
		cnf.Ingest.ClaimTimeoutMs = 2000
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}
	if cnf.RateLimit.WindowSec <= 0 {
		cnf.RateLimit.WindowSec = 60
	}
	if cnf.RateLimit.MaxPerWindow <= 0 {
		cnf.RateLimit.MaxPerWindow = 100
	}

	if cnf.Sweep.IntervalSec <= 0 {
		cnf.Sweep.IntervalSec = 30
	}
	if cnf.Sweep.StuckThresholdMin <= 0 {
		cnf.Sweep.StuckThresholdMin = 10
	}
	if cnf.Sweep.MaxAttempts <= 0 {
		cnf.Sweep.MaxAttempts = 1
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
