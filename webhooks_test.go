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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/klaspay/klaspay/config"
)

func mockWebhookConfig(t *testing.T, url string) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	mockConfig := &config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{WebhookQueue: "new:webhook"},
	}
	mockConfig.Notification.Webhook.Url = url
	mockConfig.Notification.Webhook.Headers = map[string]string{"X-Klaspay-Event": "payment"}
	config.MockConfig(mockConfig)
}

func TestSendWebhookEnqueuesTask(t *testing.T) {
	mockWebhookConfig(t, "https://hooks.example.com/payments")

	testData := NewWebhook{
		Event:   "payment.completed",
		Payload: map[string]interface{}{"resource_id": "payres_1", "amount_cents": 5000},
	}

	err := SendWebhook(testData)
	assert.NoError(t, err)
}

func TestSendWebhookNoopWithoutURL(t *testing.T) {
	mockWebhookConfig(t, "")

	err := SendWebhook(NewWebhook{Event: "payment.completed"})
	assert.NoError(t, err)
}

func TestProcessWebhookDeliversPayload(t *testing.T) {
	mockWebhookConfig(t, "https://hooks.example.com/payments")

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/payments",
		httpmock.NewStringResponder(200, `{"received": true}`))

	payload, err := json.Marshal(NewWebhook{
		Event:   "payment.amount_mismatch",
		Payload: map[string]interface{}{"resource_id": "payres_1"},
	})
	assert.NoError(t, err)

	task := asynq.NewTask("new:webhook", payload)
	err = ProcessWebhook(context.Background(), task)
	assert.NoError(t, err)

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
