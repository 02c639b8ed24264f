/*
Copyright 2026.

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

package apiresponses

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Machine readable error codes carried in APIError.Code.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
)

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, body APIError) {
	c.AbortWithStatusJSON(status, body)
}

// RespondNotFound reports a missing alert or call attempt.
func RespondNotFound(c *gin.Context, resourceType, resourceName string) {
	abort(c, http.StatusNotFound, APIError{Error: resourceType + " not found: " + resourceName, Code: CodeNotFound})
}

// RespondBadRequest reports a malformed query, payload or webhook field.
func RespondBadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, APIError{Error: message, Code: CodeBadRequest})
}

func RespondBadRequestWithDetails(c *gin.Context, message, details string) {
	abort(c, http.StatusBadRequest, APIError{Error: message, Code: CodeBadRequest, Details: details})
}

// RespondInternalError logs err and answers with the operation name only, so
// driver messages never reach the caller.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw("Request failed", "operation", operation, "path", c.FullPath(), "error", err)
	}
	abort(c, http.StatusInternalServerError, APIError{Error: fmt.Sprintf("failed to %s", operation), Code: CodeInternal})
}

func RespondServiceUnavailable(c *gin.Context, service string) {
	abort(c, http.StatusServiceUnavailable, APIError{Error: service + " is unavailable", Code: CodeServiceUnavailable})
}

func RespondTooManyRequests(c *gin.Context) {
	abort(c, http.StatusTooManyRequests, APIError{
		Error: "rate limit exceeded, please try again later",
		Code:  CodeRateLimited,
	})
}

func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondAccepted answers a request whose work continues asynchronously.
func RespondAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}
