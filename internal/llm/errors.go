package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Category groups completion failures for logging. It never changes control flow.
type Category string

const (
	CategoryAuthInvalid        Category = "auth-invalid"
	CategoryForbidden          Category = "forbidden"
	CategoryRateLimited        Category = "rate-limited"
	CategoryServerUnavailable  Category = "server-unavailable"
	CategoryTimeout            Category = "timeout"
	CategoryNetworkUnreachable Category = "network-unreachable"
	CategoryContextTooLong     Category = "context-too-long"
	CategoryQuotaExhausted     Category = "quota-exhausted"
	CategoryUnknown            Category = "unknown"
)

// StatusCoder is implemented by transport errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps err to a Category using its status code when available and
// otherwise well known substrings of its message.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if code, ok := statusCode(err); ok {
		if c, ok := categoryForStatus(code); ok {
			return c
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"):
		return CategoryAuthInvalid
	case strings.Contains(msg, "403"):
		return CategoryForbidden
	case strings.Contains(msg, "429"):
		return CategoryRateLimited
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"):
		return CategoryServerUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return CategoryTimeout
	case strings.Contains(msg, "Connection"), strings.Contains(msg, "connect"):
		return CategoryNetworkUnreachable
	case strings.Contains(msg, "context_length"), strings.Contains(msg, "maximum context"):
		return CategoryContextTooLong
	case strings.Contains(msg, "insufficient_quota"):
		return CategoryQuotaExhausted
	}
	return CategoryUnknown
}

// statusCode extracts the HTTP status from Gemini API errors and StatusCoder implementations.
func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

func categoryForStatus(code int) (Category, bool) {
	switch code {
	case 401:
		return CategoryAuthInvalid, true
	case 403:
		return CategoryForbidden, true
	case 429:
		return CategoryRateLimited, true
	case 500, 502, 503:
		return CategoryServerUnavailable, true
	}
	return "", false
}

// FirstLine returns the first line of err's message for compact log output.
func FirstLine(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
