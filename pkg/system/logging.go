// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestLogger returns middleware that stores a logger annotated with the
// request method, path and client IP under ReqLoggerKey.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ReqLoggerKey, base.With("method", c.Request.Method, "path", c.FullPath(), "clientIP", c.ClientIP()))
		c.Next()
	}
}

// EnrichReqLoggerWithCall annotates the request-scoped logger with the
// attempt id from the route and the provider call sid from the callback form,
// when present.
func EnrichReqLoggerWithCall(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if id := c.Param("id"); id != "" {
		reqLogger = reqLogger.With("attemptID", id)
	}
	if sid := c.PostForm("CallSid"); sid != "" {
		reqLogger = reqLogger.With("callSid", sid)
	}
	return reqLogger
}

// AttemptFields returns key/value pairs identifying a call attempt, suitable for
// SugaredLogger.With or Infow. The alert id is omitted when empty.
func AttemptFields(attemptID, alertID string) []interface{} {
	if alertID == "" {
		return []interface{}{"attemptID", attemptID}
	}
	return []interface{}{"attemptID", attemptID, "alertID", alertID}
}
