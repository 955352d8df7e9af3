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

	model2 "github.com/klaspay/klaspay/api/model"
	"github.com/klaspay/klaspay/internal/apierror"
)

// CreateEnrollment registers a student for a course and returns the payment
// resource id the processor will reference. A resubmitted enrollment returns
// the original row with 409 instead of creating a second one.
func (a Api) CreateEnrollment(c *gin.Context) {
	var newEnrollment model2.CreateEnrollment
	if err := c.ShouldBindJSON(&newEnrollment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newEnrollment.ValidateCreateEnrollment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, isNew, err := a.klaspay.CreateEnrollment(c.Request.Context(), newEnrollment.ToEnrollment())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if !isNew {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetEnrollment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.klaspay.GetEnrollment(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
