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
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/internal/limiter"
)

const ClientIDHeader = "X-Client-Id"

// ThrottleMiddleware enforces the per-caller fixed window limit on the
// webhook surface. The caller's identity is the client id header when
// present, falling back to the client IP. When the window is exceeded the
// request is answered with 429 and a Retry-After, so a misbehaving caller
// backs off instead of starving everyone else.
//
// The limiter lives in Redis; when Redis is unreachable requests pass
// through, because throttling is protection, not correctness.
func ThrottleMiddleware(lim *limiter.RedisWindowLimiter, conf *config.Configuration, onThrottled func()) gin.HandlerFunc {
	window := time.Duration(conf.RateLimit.WindowSec) * time.Second
	maxPerWindow := conf.RateLimit.MaxPerWindow

	return func(c *gin.Context) {
		identity := c.GetHeader(ClientIDHeader)
		if identity == "" {
			identity = c.ClientIP()
		}

		count, retryAfter, err := lim.Consume(c.Request.Context(), identity, window)
		if err != nil {
			logrus.Errorf("throttle: limiter error for %s: %v", identity, err)
			c.Next()
			return
		}

		if count > maxPerWindow {
			if onThrottled != nil {
				onThrottled()
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
