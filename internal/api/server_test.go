package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/app"
	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/universe"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	factory := func(ctx *universe.Context) (broker.Broker, error) {
		if ctx.Universe() != universe.Simulation {
			return nil, fmt.Errorf("test factory serves simulation only")
		}
		cfg := broker.DefaultSimConfig()
		cfg.BaseDir = dir
		cfg.Seed = 3
		return broker.NewSimBroker(cfg, nil, zap.NewNop())
	}

	application, err := app.New(app.Config{
		Universe:      universe.Simulation,
		BaseDir:       dir,
		BrokerFactory: factory,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(application.Stop)

	return NewServer(zap.NewNop(), DefaultServerConfig(), application)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Bot map[string]any `json:"bot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Bot["universe"] != "simulation" {
		t.Errorf("universe = %v", payload.Bot["universe"])
	}
	if payload.Bot["trading_mode"] != "simulation" {
		t.Errorf("trading_mode = %v", payload.Bot["trading_mode"])
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get config = %d", rec.Code)
	}

	rec = doRequest(t, s, "PUT", "/api/config", `{"auto_trade": true, "max_daily_trades": 9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put config = %d, body = %s", rec.Code, rec.Body.String())
	}

	cfg := s.app.Coordinator().Config()
	if !cfg.AutoTrade || cfg.MaxDailyTrades != 9 {
		t.Errorf("config not applied: auto_trade=%v max_daily_trades=%d", cfg.AutoTrade, cfg.MaxDailyTrades)
	}
	if cfg.Strategy == "" {
		t.Error("partial update wiped unrelated fields")
	}
}

func TestConfigRejectsMalformedSectorMap(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "PUT", "/api/config", `{"sector_map_json": "not json"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	if cfg := s.app.Coordinator().Config(); cfg.SectorMapJSON != "" {
		t.Errorf("malformed sector map was persisted: %q", cfg.SectorMapJSON)
	}

	rec = doRequest(t, s, "PUT", "/api/config", `{"sector_map_json": "{\"AAPL\": \"Technology\"}"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestTradeValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing symbol", `{"action":"buy","amount":100}`, http.StatusBadRequest},
		{"bad action", `{"symbol":"AAPL","action":"short","amount":100}`, http.StatusBadRequest},
		{"buy without size", `{"symbol":"AAPL","action":"buy"}`, http.StatusBadRequest},
		{"valid buy", `{"symbol":"AAPL","action":"buy","amount":1000}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, "POST", "/api/trade", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestUniverseTransitionRejectsSameUniverse(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/universe", `{"universe":"simulation","reason":"test"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "same universe") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUniverseTransitionRejectsUnknown(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/universe", `{"universe":"prod","reason":"test"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBreakerResetEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/circuit-breaker/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyticsEndpointsEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/analytics/equity?period=7d", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("equity status = %d", rec.Code)
	}
	rec = doRequest(t, s, "GET", "/api/analytics/trades?period=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad period status = %d", rec.Code)
	}
}
