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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/klaspay/klaspay/api/model"
	"github.com/klaspay/klaspay/internal/apierror"
)

// IngestWebhook receives a payment notification from the processor.
//
// Responses:
//   - 202 Accepted: this delivery won the claim and is queued for processing.
//   - 409 Conflict: a delivery for the same resource was already accepted;
//     the body carries the current state so the processor can stop retrying.
//   - 400 Bad Request: malformed notification; nothing was recorded.
//   - 503 Service Unavailable: the ledger timed out or the queue is full;
//     the processor should redeliver later.
func (a Api) IngestWebhook(c *gin.Context) {
	var incoming model2.IncomingNotification
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := incoming.ValidateIncomingNotification(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.klaspay.IngestNotification(c.Request.Context(), incoming.ToNotification())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusConflict, gin.H{
			"resource_id": result.ResourceID,
			"duplicate":   true,
			"state":       result.State,
		})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// RecoverWebhooks triggers an immediate reconciliation sweep for stuck
// notifications.
func (a Api) RecoverWebhooks(c *gin.Context) {
	var req model2.RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	threshold := time.Duration(req.ThresholdMinutes) * time.Minute
	recovered, err := a.klaspay.RecoverStuckNotifications(c.Request.Context(), threshold)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}
