package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/unchainme/internal/app/features/health"
	"github.com/dalemusser/unchainme/internal/testutil"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context, *readpref.ReadPref) error { return f.err }

type response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Message  string `json:"message"`
}

func serve(t *testing.T, h *health.Handler) (int, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json")
	}
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rec.Code, resp
}

func TestServe_DatabaseConnected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := health.NewHandler(db.Client(), nil, zap.NewNop())

	code, resp := serve(t, handler)
	if code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, code)
	}
	if resp.Status != "ok" || resp.Database != "connected" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Redis != "" {
		t.Errorf("redis = %q, want omitted when not configured", resp.Redis)
	}
}

func TestServe_DatabaseDown(t *testing.T) {
	handler := health.NewHandler(fakePinger{err: errors.New("no reachable servers")}, nil, zap.NewNop())

	code, resp := serve(t, handler)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, code)
	}
	if resp.Status != "error" || resp.Database != "disconnected" {
		t.Errorf("response = %+v", resp)
	}
}

func TestServe_RedisDown(t *testing.T) {
	// Nothing listens on port 1.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	handler := health.NewHandler(fakePinger{}, rdb, zap.NewNop())

	code, resp := serve(t, handler)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, code)
	}
	if resp.Database != "connected" || resp.Redis != "disconnected" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Message != "Redis unavailable" {
		t.Errorf("message = %q", resp.Message)
	}
}
