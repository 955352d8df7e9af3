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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/klaspay/klaspay"
	"github.com/klaspay/klaspay/api/middleware"
	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/internal/limiter"
)

type Api struct {
	klaspay *klaspay.Klaspay
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/webhooks/payments", a.IngestWebhook)
	router.POST("/webhooks/recover", a.RecoverWebhooks)

	router.POST("/enrollments", a.CreateEnrollment)
	router.GET("/enrollments/:id", a.GetEnrollment)

	router.GET("/payments/:id", a.GetPayment)

	router.GET("/health", a.Health)

	return a.router
}

func NewAPI(k *klaspay.Klaspay) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("klaspay-api"))
	r.Use(middleware.RateLimitMiddleware(conf))

	windowLimiter := limiter.NewRedisWindowLimiter(k.RedisClient(), "klaspay:rate_limit")
	r.Use(middleware.ThrottleMiddleware(windowLimiter, conf, k.Metrics().CountThrottled))

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{klaspay: k, router: r}
}

// Health reports liveness plus the latest metrics snapshot.
func (a Api) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"metrics": a.klaspay.Metrics().Snapshot(),
	})
}
