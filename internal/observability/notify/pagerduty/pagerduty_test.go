package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orderguard/orderguard/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "dedupe",
		TenantID:   "acme",
		Error:      "boom",
		ErrorClass: "err_class",
		Metadata:   map[string]string{"rule_set": "checkout", "job_id": "shadowed"},
	})

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "orderguard" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if payloadSection["component"] != "batch-runner" {
		t.Fatalf("expected default component, got %v", payloadSection["component"])
	}
	if summary, _ := payloadSection["summary"].(string); !strings.Contains(summary, "tenant acme") {
		t.Fatalf("expected tenant in summary, got %q", summary)
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}
	for _, key := range []string{"job_id", "job_type", "tenant_id", "error", "error_class", "rule_set"} {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}
	if custom["job_id"] != "123" {
		t.Fatalf("metadata must not overwrite canonical fields, got %v", custom["job_id"])
	}
	if event["dedup_key"] != "acme:123" {
		t.Fatalf("unexpected dedup key %v", event["dedup_key"])
	}
}

func TestSendJobFailureReportsAPIError(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		http.Error(w, `{"status":"invalid event"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"})
	if err == nil || !strings.Contains(err.Error(), "invalid event") {
		t.Fatalf("expected api error body in error, got %v", err)
	}
	if got := <-received; got["routing_key"] != "key" {
		t.Fatalf("expected routing key in request, got %v", got["routing_key"])
	}
}
