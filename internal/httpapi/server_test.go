package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bandwagon/internal/domain"
	"bandwagon/internal/store"
)

type fakeRuns struct {
	runs      []store.RunSummary
	rows      map[string][]domain.Row
	trades    map[string][]domain.Trade
	lastLimit int
	failList  bool
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]store.RunSummary, error) {
	f.lastLimit = limit
	if f.failList {
		return nil, errors.New("disk on fire")
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*store.RunSummary, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, store.ErrRunNotFound
}

func (f *fakeRuns) Rows(_ context.Context, id string) ([]domain.Row, error) {
	return f.rows[id], nil
}

func (f *fakeRuns) Trades(_ context.Context, id string) ([]domain.Trade, error) {
	return f.trades[id], nil
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func newFake() *fakeRuns {
	return &fakeRuns{
		runs: []store.RunSummary{
			{
				ID:             "run-b",
				CreatedAt:      time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
				SignalMode:     "rsi",
				Sizing:         "fixed",
				Start:          day(2),
				End:            day(3),
				BeginningValue: 10000,
				FinalTotal:     10001,
				Symbols:        []string{"AAPL"},
				Evaluation: domain.Evaluation{
					TotalReturn: 0.01,
					SharpeRatio: math.NaN(),
				},
			},
			{ID: "run-a", SignalMode: "none", Sizing: "risk"},
		},
		rows: map[string][]domain.Row{
			"run-b": {
				{Date: day(2), Cash: 10000, Total: 10000},
				{
					Date:         day(3),
					Cash:         9902,
					HoldingValue: 98,
					Total:        10000,
					Holdings:     map[string]int64{"AAPL": 1},
					Marks:        map[string]float64{"AAPL": 98},
				},
			},
		},
		trades: map[string][]domain.Trade{
			"run-b": {{Date: day(3), Symbol: "AAPL", Side: domain.SideBuy, Qty: 1, Price: 98, CashAfter: 9902}},
		},
	}
}

func get(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("decoding %s: %v (body %s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestListRuns(t *testing.T) {
	f := newFake()
	h := NewRunServer(f, nil).Handler()

	var resp RunsResponse
	if code := get(t, h, "/api/runs", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if f.lastLimit != DefaultLimit {
		t.Errorf("limit = %d, want %d", f.lastLimit, DefaultLimit)
	}
	if len(resp.Runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(resp.Runs))
	}
	r := resp.Runs[0]
	if r.ID != "run-b" || r.Start != "2024-01-02" || r.FinalTotal != 10001 {
		t.Errorf("run = %+v", r)
	}
	if r.Metrics.TotalReturn == nil || *r.Metrics.TotalReturn != 0.01 {
		t.Errorf("totalReturn = %v, want 0.01", r.Metrics.TotalReturn)
	}
	if r.Metrics.SharpeRatio != nil {
		t.Errorf("sharpeRatio = %v, want null for NaN", *r.Metrics.SharpeRatio)
	}
	if resp.Runs[1].Symbols == nil {
		t.Error("symbols should encode as [] not null")
	}

	resp = RunsResponse{}
	get(t, h, "/api/runs?limit=1", &resp)
	if f.lastLimit != 1 || len(resp.Runs) != 1 {
		t.Errorf("limit=1: lastLimit = %d, len = %d", f.lastLimit, len(resp.Runs))
	}

	if code := get(t, h, "/api/runs?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestListRunsError(t *testing.T) {
	f := newFake()
	f.failList = true
	h := NewRunServer(f, nil).Handler()
	if code := get(t, h, "/api/runs", nil); code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

func TestGetRun(t *testing.T) {
	h := NewRunServer(newFake(), nil).Handler()

	var run RunJSON
	if code := get(t, h, "/api/runs/run-b", &run); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if run.SignalMode != "rsi" || run.Sizing != "fixed" {
		t.Errorf("run = %+v", run)
	}

	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/timeline", "/api/runs/nope/trades"} {
		if code := get(t, h, path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, code)
		}
	}
}

func TestTimeline(t *testing.T) {
	h := NewRunServer(newFake(), nil).Handler()

	var resp TimelineResponse
	if code := get(t, h, "/api/runs/run-b/timeline", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(resp.Rows))
	}
	if resp.Rows[0].Positions != nil {
		t.Errorf("row 0 positions = %v, want none", resp.Rows[0].Positions)
	}
	last := resp.Rows[1]
	if last.Date != "2024-01-03" || last.Cash != 9902 || last.Total != 10000 {
		t.Errorf("last row = %+v", last)
	}
	if p := last.Positions["AAPL"]; p.Shares != 1 || p.Price != 98 {
		t.Errorf("AAPL position = %+v, want 1 @ 98", p)
	}
}

func TestTrades(t *testing.T) {
	h := NewRunServer(newFake(), nil).Handler()

	var resp TradesResponse
	if code := get(t, h, "/api/runs/run-b/trades", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Trades) != 1 {
		t.Fatalf("len(trades) = %d, want 1", len(resp.Trades))
	}
	tr := resp.Trades[0]
	if tr.Side != "buy" || tr.Qty != 1 || tr.Price != 98 || tr.CashAfter != 9902 {
		t.Errorf("trade = %+v", tr)
	}

	var empty TradesResponse
	get(t, h, "/api/runs/run-a/trades", &empty)
	if empty.Trades == nil || len(empty.Trades) != 0 {
		t.Errorf("run-a trades = %v, want []", empty.Trades)
	}
}

func TestModesAndCORS(t *testing.T) {
	h := NewRunServer(newFake(), nil).Handler()

	var resp ModesResponse
	if code := get(t, h, "/api/modes", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Modes) == 0 {
		t.Error("modes is empty")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/runs", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRunServer(newFake(), nil).Handler()
	get(t, h, "/api/runs", nil)
	get(t, h, "/api/runs/nope", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`bandwagon_http_requests_total{code="200",route="runs"} 1`,
		`bandwagon_http_requests_total{code="404",route="run"} 1`,
		"bandwagon_http_request_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
