package feedbacksync

import (
	"errors"
	"testing"
)

func TestSchemasCompile(t *testing.T) {
	schemas, err := compileSchemas()
	if err != nil {
		t.Fatalf("compile schemas failed: %v", err)
	}
	if schemas.requestList == nil || schemas.response == nil || schemas.responseList == nil {
		t.Fatalf("expected every schema compiled, got %+v", schemas)
	}
}

func TestValidatePayload(t *testing.T) {
	schemas := defaultSchemas()
	cases := []struct {
		name    string
		payload string
		valid   bool
	}{
		{name: "request list", payload: requestListBody, valid: true},
		{name: "empty list", payload: `[]`, valid: true},
		{name: "request missing essay", payload: `[{"pk": 1, "deadline": "2024-01-15T00:00:00Z"}]`, valid: false},
		{name: "essay name wrong type", payload: `[{"pk": 1, "essay": {"pk": 2, "name": 3, "content": ""}, "deadline": "2024-01-15T00:00:00Z"}]`, valid: false},
		{name: "not json", payload: `{`, valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePayload(schemas.requestList, []byte(tc.payload))
			if tc.valid && err != nil {
				t.Fatalf("expected valid payload, got %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}

	if err := validatePayload(schemas.response, []byte(responseBody)); err != nil {
		t.Fatalf("expected response body to validate, got %v", err)
	}
	if err := validatePayload(nil, []byte(`anything`)); err != nil {
		t.Fatalf("expected nil schema to skip validation, got %v", err)
	}
}
