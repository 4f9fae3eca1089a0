package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestResponseJSONFieldNames verifies the response field names clients depend on.
func TestResponseJSONFieldNames(t *testing.T) {
	resp := Response{
		Status:    StatusError,
		Message:   "navigation failed",
		StartTime: 1,
		EndTime:   2,
		Version:   "dev",
		ErrorKind: KindNavigation,
		Stage:     StageNavigating,
		Solution:  &Solution{URL: "https://example.com", HTML: "<html></html>"},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	jsonStr := string(data)

	expectedFields := []string{
		`"status"`,
		`"message"`,
		`"startTimestamp"`,
		`"endTimestamp"`,
		`"version"`,
		`"errorKind":"navigation"`,
		`"stage":"navigating"`,
		`"html"`,
	}
	for _, field := range expectedFields {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
}

func TestResponseHTMLNestedInSolution(t *testing.T) {
	data, err := json.Marshal(Response{
		Status:   StatusOK,
		Solution: &Solution{URL: "https://example.com", HTML: "<p>x</p>"},
	})
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if _, ok := top["html"]; ok {
		t.Errorf("html must not be a top-level field: %s", data)
	}

	var solution map[string]string
	if err := json.Unmarshal(top["solution"], &solution); err != nil {
		t.Fatalf("Failed to unmarshal solution: %v", err)
	}
	if solution["html"] != "<p>x</p>" || solution["url"] != "https://example.com" {
		t.Errorf("Unexpected solution %v", solution)
	}
}

func TestResponseOmitsEmptyErrorFields(t *testing.T) {
	data, err := json.Marshal(Response{Status: StatusOK})
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	for _, field := range []string{"errorKind", "stage", "solution"} {
		if strings.Contains(string(data), field) {
			t.Errorf("Expected %q to be omitted, got %s", field, data)
		}
	}
}

func TestFetchRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     FetchRequest
		wantErr bool
	}{
		{"valid", FetchRequest{URL: "https://example.com"}, false},
		{"valid with headers", FetchRequest{URL: "http://example.com", Headers: map[string]string{"accept-language": "fr-FR"}}, false},
		{"missing url", FetchRequest{}, true},
		{"bad scheme", FetchRequest{URL: "ftp://example.com"}, true},
		{"no scheme", FetchRequest{URL: "not-a-url"}, true},
		{"negative timeout", FetchRequest{URL: "https://example.com", MaxTimeout: -1}, true},
		{"timeout too large", FetchRequest{URL: "https://example.com", MaxTimeout: MaxTimeoutMs + 1}, true},
		{"url too long", FetchRequest{URL: "https://example.com/" + strings.Repeat("a", MaxURLLength)}, true},
		{"header value too long", FetchRequest{URL: "https://example.com", Headers: map[string]string{"x": strings.Repeat("v", MaxHeaderValueLength+1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchRequestValidateMissingURL(t *testing.T) {
	req := FetchRequest{}
	if err := req.Validate(); !errors.Is(err, ErrURLRequired) {
		t.Errorf("Expected ErrURLRequired, got %v", err)
	}
}

func TestNormalizedHeaders(t *testing.T) {
	req := FetchRequest{URL: "https://example.com"}
	if req.NormalizedHeaders() != nil {
		t.Error("Expected nil headers to stay nil")
	}

	req.Headers = map[string]string{"Accept-Language": "fr-FR", " X-Test ": "1"}
	got := req.NormalizedHeaders()
	if got["accept-language"] != "fr-FR" {
		t.Errorf("Expected lower-cased accept-language, got %v", got)
	}
	if got["x-test"] != "1" {
		t.Errorf("Expected trimmed x-test, got %v", got)
	}

	req.Headers = map[string]string{}
	if got := req.NormalizedHeaders(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil map, got %v", got)
	}
}
