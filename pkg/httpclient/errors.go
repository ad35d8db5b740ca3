package httpclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Error is returned for any response with a status code of 400 or more.
type Error struct {
	Code   int
	Method string
	URL    string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d %s] %s %s: %s", e.Code, http.StatusText(e.Code), e.Method, e.URL, e.Detail)
}

var _ error = &Error{}

func NewErrorFromRestyResponse(res *resty.Response) *Error {
	e := &Error{Code: res.StatusCode(), Detail: res.String()}
	if res.Request != nil {
		e.Method = res.Request.Method
		e.URL = res.Request.URL
	}
	return e
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
