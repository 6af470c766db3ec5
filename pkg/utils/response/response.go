// Package response provides the unified API response structure.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data interface{} `json:"data,omitempty"`

	httpCode int
}

// Success creates a successful response with data.
func Success(data interface{}) *Response {
	return &Response{
		Code:     0,
		Message:  "success",
		Data:     data,
		httpCode: http.StatusOK,
	}
}

// Err creates an error response. Errors that do not carry an Errno are
// reported as errors.ErrInternal.
func Err(err error) *Response {
	if err == nil {
		return Success(nil)
	}
	e := errors.FromError(err)
	if e == nil {
		e = errors.ErrInternal.WithCause(err)
	}
	return &Response{
		Code:     e.Code,
		Message:  e.MessageEN,
		httpCode: e.HTTPStatus(),
	}
}

// HTTPStatus returns the HTTP status code for this response.
func (r *Response) HTTPStatus() int {
	if r.httpCode != 0 {
		return r.httpCode
	}
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Code == 0
}

// Write renders err (if non-nil) or data as a Response.
func Write(c *gin.Context, err error, data interface{}) {
	r := Success(data)
	if err != nil {
		r = Err(err)
	}
	c.JSON(r.HTTPStatus(), r)
}
