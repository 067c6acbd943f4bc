package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetPassID(ctx) != "" || GetCircleID(ctx) != "" {
		t.Fatal("empty context should carry no IDs")
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPassID(ctx, "pass-1")
	ctx = WithCircleID(ctx, "alpha")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-1")
	}
	if got := GetPassID(ctx); got != "pass-1" {
		t.Errorf("GetPassID() = %q, want %q", got, "pass-1")
	}
	if got := GetCircleID(ctx); got != "alpha" {
		t.Errorf("GetCircleID() = %q, want %q", got, "alpha")
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if len(a) != 36 {
		t.Errorf("GenerateRequestID() = %q, want a UUID", a)
	}
	if a == b {
		t.Error("request IDs should be unique")
	}
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	ctx := WithPassID(WithRequestID(context.Background(), "req-1"), "pass-1")
	ctx = WithCircleID(ctx, "alpha")
	ContextLogger(ctx, zap.New(core)).Info("evaluating")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	for key, want := range map[string]string{"request_id": "req-1", "pass_id": "pass-1", "circle": "alpha"} {
		if fields[key] != want {
			t.Errorf("field %s = %v, want %q", key, fields[key], want)
		}
	}
	if _, ok := fields["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("propagates incoming header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "incoming")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "incoming" {
			t.Errorf("handler saw %q, want %q", seen, "incoming")
		}
		if got := rec.Header().Get(RequestIDHeader); got != "incoming" {
			t.Errorf("response header = %q, want %q", got, "incoming")
		}
	})

	t.Run("generates missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("handler should see a generated request ID")
		}
		if got := rec.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("response header = %q, want %q", got, seen)
		}
	})
}

func TestInjectHeaders(t *testing.T) {
	ctx := WithPassID(WithRequestID(context.Background(), "req-1"), "pass-1")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	InjectHeaders(ctx, req)

	if got := req.Header.Get(RequestIDHeader); got != "req-1" {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, "req-1")
	}
	if got := req.Header.Get(PassIDHeader); got != "pass-1" {
		t.Errorf("%s = %q, want %q", PassIDHeader, got, "pass-1")
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	InjectHeaders(context.Background(), bare)
	if bare.Header.Get(RequestIDHeader) != "" || bare.Header.Get(PassIDHeader) != "" {
		t.Error("no headers should be set without IDs in context")
	}
}
