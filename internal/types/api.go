package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxURLLength         = 8192
	MaxTimeoutMs         = 600000 // 10 minutes in milliseconds
	MaxHeaders           = 50
	MaxHeaderNameLength  = 256
	MaxHeaderValueLength = 8192
)

// FetchRequest represents an incoming fetch API request.
type FetchRequest struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`    // Replaces the session default headers for this fetch
	MaxTimeout int               `json:"maxTimeout,omitempty"` // Milliseconds, capped by the server maximum
}

// Validate validates the request shape. SSRF and header policy checks
// live in the security package.
func (r *FetchRequest) Validate() error {
	if r.URL == "" {
		return ErrURLRequired
	}
	if len(r.URL) > MaxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d", MaxURLLength)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got: %q", scheme)
	}

	if r.MaxTimeout < 0 {
		return fmt.Errorf("maxTimeout cannot be negative")
	}
	if r.MaxTimeout > MaxTimeoutMs {
		return fmt.Errorf("maxTimeout exceeds maximum of %d ms", MaxTimeoutMs)
	}

	if len(r.Headers) > MaxHeaders {
		return fmt.Errorf("too many headers (maximum %d)", MaxHeaders)
	}
	for name, value := range r.Headers {
		if len(name) > MaxHeaderNameLength {
			return fmt.Errorf("header name exceeds maximum length of %d", MaxHeaderNameLength)
		}
		if len(value) > MaxHeaderValueLength {
			return fmt.Errorf("header value exceeds maximum length of %d", MaxHeaderValueLength)
		}
	}

	return nil
}

// NormalizedHeaders returns the request headers with lower-cased names.
// A nil map stays nil so that "no override" and "empty override" remain distinct.
func (r *FetchRequest) NormalizedHeaders() map[string]string {
	if r.Headers == nil {
		return nil
	}
	out := make(map[string]string, len(r.Headers))
	for name, value := range r.Headers {
		out[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return out
}

// Response represents an API response.
type Response struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	StartTime int64     `json:"startTimestamp"`
	EndTime   int64     `json:"endTimestamp"`
	Version   string    `json:"version"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
	Solution  *Solution `json:"solution,omitempty"`
}

// Solution contains the result of a successful fetch.
type Solution struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// Status values for API responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
