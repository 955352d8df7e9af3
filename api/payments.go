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

	"github.com/gin-gonic/gin"

	"github.com/klaspay/klaspay/internal/apierror"
)

// GetPayment returns the applied payment for a processor resource id, along
// with the dedup ledger state that produced it.
func (a Api) GetPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	record, err := a.klaspay.GetDedupRecord(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	payment, err := a.klaspay.GetPayment(c.Request.Context(), id)
	if err != nil {
		// The record exists but no payment was applied (failed or still in
		// flight); the ledger state is the useful answer.
		c.JSON(http.StatusOK, gin.H{"resource_id": id, "state": record.State, "reason": record.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resource_id": id, "state": record.State, "payment": payment})
}
