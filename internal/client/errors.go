package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status     int
	StatusText string
	Body       []byte
	// JSON reports whether Body was served as application/json.
	JSON bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: %d %s", e.Status, e.StatusText)
}

// Data returns the parsed JSON body, or a zero Result for text bodies.
func (e *APIError) Data() gjson.Result {
	if !e.JSON || !gjson.ValidBytes(e.Body) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(e.Body)
}

// NetworkError is returned when the request never produced an HTTP response.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an APIError with one of the given statuses.
func IsStatus(err error, statuses ...int) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, status := range statuses {
		if apiErr.Status == status {
			return true
		}
	}
	return false
}

// IsUnauthenticated reports whether err signals that the caller's credentials
// are no longer valid.
func IsUnauthenticated(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.Status == 401 || isUnauthenticatedBody(apiErr)
}

func isUnauthenticatedBody(e *APIError) bool {
	if !e.JSON {
		return strings.Contains(strings.ToLower(string(e.Body)), "unauthenticated")
	}
	data := e.Data()
	switch {
	case data.Type == gjson.String:
		return strings.Contains(strings.ToLower(data.Str), "unauthenticated")
	case data.IsObject():
		message := data.Get("message")
		return message.Type == gjson.String && message.Str == "Unauthenticated."
	}
	return false
}

// FormatAPIError renders an API error for the user: the first message of an
// errors map, else the top-level message, else the status with the raw body.
func FormatAPIError(e *APIError) string {
	fallback := fmt.Sprintf("Erreur %d. Veuillez reessayer.", e.Status)

	if !e.JSON {
		if len(e.Body) == 0 {
			return fallback
		}
		return string(e.Body)
	}

	data := e.Data()
	switch data.Type {
	case gjson.String:
		if data.Str == "" {
			return fallback
		}
		return data.Str
	case gjson.JSON:
		if first := firstFieldError(data); first != "" {
			return first
		}
		if message := data.Get("message"); message.Type == gjson.String {
			return message.Str
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(data.Raw)); err != nil {
			return fallback
		}
		return fmt.Sprintf("Erreur %d. %s", e.Status, compact.String())
	}
	return fallback
}

// firstFieldError returns the first string found in the errors map, in
// document order.
func firstFieldError(data gjson.Result) string {
	errs := data.Get("errors")
	if !errs.IsObject() {
		return ""
	}
	var first string
	errs.ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() {
			for _, item := range value.Array() {
				if item.Type == gjson.String && item.Str != "" {
					first = item.Str
					return false
				}
			}
			return true
		}
		if value.Type == gjson.String && value.Str != "" {
			first = value.Str
			return false
		}
		return true
	})
	return first
}
