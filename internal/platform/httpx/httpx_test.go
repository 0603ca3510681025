package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/maherkar/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc123"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("invalid_request", "bad\ninput", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": map[string]string{"durations": "must be at least 1"}}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_request" || body["message"] != "bad input" || body["status"] != float64(400) {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["request_id"] != "req-42" || body["trace_id"] != "abc123" {
		t.Fatalf("expected correlation ids, got %v", body)
	}
	if _, ok := body["fields"].(map[string]any); !ok {
		t.Fatalf("expected field details, got %v", body["fields"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		PlanID string `json:"plan_id"`
	}
	decode := func(body string, limit int64) (payload, error) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return p, DecodeJSON(req, limit, &p)
	}

	if p, err := decode(`{"plan_id":"plan_basic"}`, 1024); err != nil || p.PlanID != "plan_basic" {
		t.Fatalf("unexpected decode result %+v %v", p, err)
	}
	if _, err := decode(`{"plan_id":"x","extra":1}`, 1024); err == nil {
		t.Fatal("expected unknown field rejection")
	}
	if _, err := decode(`{"plan_id":"x"}{}`, 1024); err == nil {
		t.Fatal("expected trailing data rejection")
	}
	if _, err := decode(``, 1024); err == nil {
		t.Fatal("expected empty body rejection")
	}
	if _, err := decode(`{"plan_id":"`+strings.Repeat("a", 64)+`"}`, 16); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}
