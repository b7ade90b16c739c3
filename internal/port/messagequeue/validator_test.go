package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateValidPoolCreated(t *testing.T) {
	data := []byte(`{"tenant_id":"acme","database":"saas","min_size":2,"max_size":10,"created_at":"2026-01-02T15:04:05Z"}`)
	if err := Validate(SubjectPoolCreated, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidPoolDeleted(t *testing.T) {
	data := []byte(`{"tenant_id":"acme","deleted_at":"2026-01-02T15:04:05Z"}`)
	if err := Validate(SubjectPoolDeleted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidPoolEvicted(t *testing.T) {
	data := []byte(`{"tenant_id":"acme","idle_for":600000000000}`)
	if err := Validate(SubjectPoolEvicted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidPoolDegraded(t *testing.T) {
	data := []byte(`{"tenant_id":"acme","reason":"health probe failed on release"}`)
	if err := Validate(SubjectPoolDegraded, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	// Unknown subjects should pass (future-proof).
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	data := []byte(`{not valid json`)
	err := Validate(SubjectPoolCreated, data)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	// Valid JSON but cannot unmarshal into PoolCreatedPayload.
	data := []byte(`"just a string"`)
	err := Validate(SubjectPoolCreated, data)
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}
