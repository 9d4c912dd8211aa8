package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/mattjoyce/pipelab/internal/config"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/queue"
	"github.com/mattjoyce/pipelab/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// mockQueue is a hand-written Enqueuer.
type mockQueue struct {
	enqueueFn func(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

func (m *mockQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, req)
	}
	return "test-run-id", nil
}

func deployConfig(secret string) Config {
	return Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:     "/hooks/deploy",
			Pipeline: "deploy",
			Secret:   secret,
		}},
	}
}

func post(t *testing.T, h http.Handler, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookValidSignature(t *testing.T) {
	body := []byte(`{"ref":"main"}`)
	notified := 0
	mq := &mockQueue{
		enqueueFn: func(_ context.Context, req queue.EnqueueRequest) (string, error) {
			if req.Pipeline != "deploy" || req.Trigger != TriggerOrigin {
				t.Errorf("request = %+v", req)
			}
			if req.SubmittedBy != "webhook:/hooks/deploy" {
				t.Errorf("SubmittedBy = %q", req.SubmittedBy)
			}
			var payload struct {
				Body    map[string]any    `json:"body"`
				Headers map[string]string `json:"headers"`
			}
			if err := json.Unmarshal(req.Payload, &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if payload.Body["ref"] != "main" {
				t.Errorf("body = %v", payload.Body)
			}
			if payload.Headers["x-event"] != "push" {
				t.Errorf("headers = %v", payload.Headers)
			}
			if _, leaked := payload.Headers["x-hub-signature-256"]; leaked {
				t.Error("signature header must not reach the pipeline")
			}
			return "run-123", nil
		},
	}
	s := New(deployConfig("s3cret"), mq, WithNotify(func() { notified++ }))

	rec := post(t, s.Handler(), "/hooks/deploy", body, map[string]string{
		DefaultSignatureHeader: Sign(body, "s3cret"),
		"X-Event":              "push",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp TriggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run-123" {
		t.Errorf("RunID = %q", resp.RunID)
	}
	if notified != 1 {
		t.Errorf("notify called %d times", notified)
	}
}

func TestWebhookRejections(t *testing.T) {
	secret := "s3cret"
	big := bytes.Repeat([]byte("a"), DefaultMaxBodySize+1)

	tests := []struct {
		name   string
		path   string
		body   []byte
		header map[string]string
		want   int
	}{
		{"wrong signature", "/hooks/deploy", []byte(`{}`), map[string]string{DefaultSignatureHeader: "sha256=" + strings.Repeat("0", 64)}, http.StatusForbidden},
		{"missing signature", "/hooks/deploy", []byte(`{}`), nil, http.StatusForbidden},
		{"signature in another header", "/hooks/deploy", []byte(`{}`), map[string]string{"X-Signature": Sign([]byte(`{}`), secret)}, http.StatusForbidden},
		{"too large", "/hooks/deploy", big, map[string]string{DefaultSignatureHeader: Sign(big, secret)}, http.StatusRequestEntityTooLarge},
		{"unknown path", "/hooks/other", []byte(`{}`), nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := &mockQueue{enqueueFn: func(context.Context, queue.EnqueueRequest) (string, error) {
				t.Fatal("Enqueue must not be called")
				return "", nil
			}}
			rec := post(t, New(deployConfig(secret), mq).Handler(), tt.path, tt.body, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				var resp ErrorResponse
				_ = json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Error != "forbidden" {
					t.Errorf("error = %q, want generic forbidden", resp.Error)
				}
			}
		})
	}
}

func TestWebhookEnqueueFailure(t *testing.T) {
	body := []byte("plain text")
	mq := &mockQueue{enqueueFn: func(context.Context, queue.EnqueueRequest) (string, error) {
		return "", errors.New("database is locked")
	}}
	rec := post(t, New(deployConfig("k"), mq).Handler(), "/hooks/deploy", body,
		map[string]string{DefaultSignatureHeader: Sign(body, "k")})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "locked") {
		t.Error("internal error leaked to the caller")
	}
}

func TestWebhookEnqueuesRealRun(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q := queue.New(db)

	body := []byte("not json")
	rec := post(t, New(deployConfig("k"), q).Handler(), "/hooks/deploy", body,
		map[string]string{DefaultSignatureHeader: Sign(body, "k")})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp TriggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	job, err := q.Get(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Trigger != TriggerOrigin || job.Pipeline != "deploy" || job.Status != queue.StatusQueued {
		t.Fatalf("job = %+v", job)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["body"] != "not json" {
		t.Errorf("body = %v", payload["body"])
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(deployConfig("k"), &mockQueue{})
	ep := s.endpoints["/hooks/deploy"]
	if ep.MaxBodySize != DefaultMaxBodySize || ep.SignatureHeader != DefaultSignatureHeader {
		t.Fatalf("endpoint = %+v", ep)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(&config.WebhooksConfig{
		Listen: ":8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/a", Pipeline: "p", Secret: "s", MaxBodySize: "64KB"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoints[0].MaxBodySize != 64<<10 || cfg.Endpoints[0].Pipeline != "p" {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := FromConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/a", Secret: "s", MaxBodySize: "huge"}}}); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := FromConfig(nil); err == nil {
		t.Fatal("expected nil config error")
	}
}
