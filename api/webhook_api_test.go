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

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/klaspay/klaspay"
	model2 "github.com/klaspay/klaspay/api/model"
	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/database"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(&s.Response); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T, maxPerWindow int) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			PaymentQueue:     "new:payment",
			WebhookQueue:     "new:webhook",
			NumberOfQueues:   4,
			Capacity:         10000,
			MaxRetryAttempts: 5,
		},
		Ingest:    config.IngestConfig{ClaimTimeoutMs: 2000},
		RateLimit: config.RateLimitConfig{WindowSec: 60, MaxPerWindow: maxPerWindow},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { db.Close() })

	newKlaspay, err := klaspay.NewKlaspay(&database.Datasource{Conn: db})
	if err != nil {
		t.Fatalf("Error creating Klaspay instance: %s", err)
	}

	return NewAPI(newKlaspay).Router(), mock
}

func notificationBody(t *testing.T, resourceID string, amount int64) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(model2.IncomingNotification{
		NotificationID: gofakeit.UUID(),
		Action:         "payment.created",
		ResourceID:     resourceID,
		AmountCents:    &amount,
		LiveMode:       true,
	})
	assert.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestIngestWebhookThreeDeliveriesOneWinner(t *testing.T) {
	router, mock := setupRouter(t, 100)
	resourceID := "payres_" + gofakeit.UUID()

	// First delivery wins the claim.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dedup_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// The two retries lose it.
	for i := 0; i < 2; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dedup_records")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id")).
			WillReturnRows(sqlmock.NewRows([]string{"resource_id", "notification_id", "state", "reason", "claim_count", "claimed_at", "completed_at"}).
				AddRow(resourceID, gofakeit.UUID(), "CLAIMED", "", 1, gofakeit.Date(), nil))
	}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		var response map[string]interface{}
		resp, err := SetUpTestRequest(TestRequest{
			Payload:  notificationBody(t, resourceID, 5000),
			Router:   router,
			Response: &response,
			Method:   "POST",
			Route:    "/webhooks/payments",
		})
		assert.NoError(t, err)
		codes = append(codes, resp.Code)
	}

	assert.ElementsMatch(t, []int{http.StatusAccepted, http.StatusConflict, http.StatusConflict}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhookMalformedRejected(t *testing.T) {
	router, mock := setupRouter(t, 100)

	bodies := []string{
		`{"action": "payment.created", "amount_cents": 5000}`,                                           // no ids
		`{"notification_id": "ntf_1", "resource_id": "payres_1", "action": "payment.exploded"}`,         // bad action
		`{"notification_id": "ntf_1", "resource_id": "payres_1", "action": "payment.created", "amount_cents": -5}`, // negative
		`{"notification_id": "ntf_1", "resource_id": "payres_1", "action": "payment.created", "amount": "12.345"}`, // fractional cent
		`{"notification_id": "ntf_1", "resource_id": "payres_1", "action": "payment.created", "sent_at": "yesterday-ish"}`, // bad timestamp
		`{not json`,
	}

	for _, body := range bodies {
		resp, _ := SetUpTestRequest(TestRequest{
			Payload: bytes.NewBufferString(body),
			Router:  router,
			Method:  "POST",
			Route:   "/webhooks/payments",
		})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	}

	// Nothing ever reached the ledger.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhookAcceptsMajorUnitAmount(t *testing.T) {
	router, mock := setupRouter(t, 100)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dedup_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := `{"notification_id": "ntf_1", "resource_id": "payres_major", "action": "payment.created", "amount": "50.00", "sent_at": "2026-08-29T12:00:00Z"}`
	resp, _ := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBufferString(body),
		Router:  router,
		Method:  "POST",
		Route:   "/webhooks/payments",
	})
	assert.Equal(t, http.StatusAccepted, resp.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhookThrottledPerCaller(t *testing.T) {
	router, mock := setupRouter(t, 5)

	// The first five requests within the window are admitted; allow their
	// claims to succeed.
	for i := 0; i < 5; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dedup_records")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	throttled := 0
	for i := 0; i < 10; i++ {
		resp, _ := SetUpTestRequest(TestRequest{
			Payload: notificationBody(t, "payres_"+gofakeit.UUID(), 5000),
			Router:  router,
			Method:  "POST",
			Route:   "/webhooks/payments",
			Header:  map[string]string{"X-Client-Id": "processor-a"},
		})
		if resp.Code == http.StatusTooManyRequests {
			throttled++
			assert.NotEmpty(t, resp.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, 5, throttled)

	// A different caller is unaffected.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dedup_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	resp, _ := SetUpTestRequest(TestRequest{
		Payload: notificationBody(t, "payres_"+gofakeit.UUID(), 5000),
		Router:  router,
		Method:  "POST",
		Route:   "/webhooks/payments",
		Header:  map[string]string{"X-Client-Id": "processor-b"},
	})
	assert.Equal(t, http.StatusAccepted, resp.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(t, 100)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/health",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", response["status"])
	assert.Contains(t, response, "metrics")
}
