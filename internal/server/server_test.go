package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/di"
	"github.com/aristath/folio/internal/events"
	snapshothandlers "github.com/aristath/folio/internal/modules/snapshots/handlers"
	testutil "github.com/aristath/folio/internal/testing"
	"github.com/aristath/folio/internal/work"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	cfg := &config.Config{
		DataDir:           t.TempDir(),
		Port:              8001,
		WorkWorkers:       1,
		WorkQueueSize:     16,
		ReconcileSchedule: config.DefaultReconcileSchedule,
		Backup:            config.BackupConfig{Schedule: config.DefaultBackupSchedule},
	}
	container, _, err := di.WireWithClock(cfg, testutil.FixedClock("2024-01-10"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return New(Config{Log: zerolog.Nop(), Container: container, Port: cfg.Port, DevMode: true}), container
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"folio": "ok", "cache": "ok"}, resp.Databases)
}

func TestTransactions_CreateListDelete(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/users/1/transactions",
		`{"symbol":"aapl","side":"buy","quantity":"10","price_per_unit":"100","fees":"0","trade_date":"2024-01-02"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID       int64  `json:"id"`
		Side     string `json:"side"`
		Quantity string `json:"quantity"`
	}
	decode(t, rec, &created)
	assert.Equal(t, "BUY", created.Side)
	assert.Equal(t, "10", created.Quantity)

	rec = do(t, s, http.MethodGet, "/api/users/1/transactions?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Total int `json:"total"`
		Items []struct {
			ID int64 `json:"id"`
		} `json:"items"`
	}
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)

	// other users see nothing
	rec = do(t, s, http.MethodGet, "/api/users/2/transactions", "")
	decode(t, rec, &page)
	assert.Equal(t, 0, page.Total)

	rec = do(t, s, http.MethodDelete, "/api/users/2/transactions/"+strconv.FormatInt(created.ID, 10), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/users/1/transactions/"+strconv.FormatInt(created.ID, 10), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransactions_OversellIs422(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/users/1/transactions",
		`{"symbol":"AAPL","side":"BUY","quantity":5,"price_per_unit":100,"fees":0,"trade_date":"2024-01-02"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/users/1/transactions",
		`{"symbol":"AAPL","side":"SELL","quantity":6,"price_per_unit":100,"fees":0,"trade_date":"2024-01-03"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, "you only hold 5.0000 shares of AAPL")

	rec = do(t, s, http.MethodPost, "/api/users/1/transactions",
		`{"symbol":"NVDA","side":"SELL","quantity":1,"price_per_unit":100,"fees":0,"trade_date":"2024-01-03"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/market/securities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "NVDA")
}

func TestTransactions_BadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"malformed json", "/api/users/1/transactions", `{"symbol":`, http.StatusBadRequest},
		{"unknown field", "/api/users/1/transactions", `{"ticker":"AAPL"}`, http.StatusBadRequest},
		{"bad side", "/api/users/1/transactions", `{"symbol":"AAPL","side":"HOLD","quantity":1,"price_per_unit":1,"fees":0,"trade_date":"2024-01-02"}`, http.StatusBadRequest},
		{"bad user", "/api/users/abc/transactions", `{}`, http.StatusBadRequest},
		{"zero user", "/api/users/0/transactions", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var resp errorResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}

	rec := do(t, s, http.MethodDelete, "/api/users/1/transactions/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortfolioEndpoints(t *testing.T) {
	s, container := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/market/prices",
		`[{"symbol":"AAPL","date":"2024-01-02","close":"100"},{"symbol":"AAPL","date":"2024-01-09","close":"120"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/market/dividends", `[{"symbol":"AAPL","date":"2024-01-05","amount_per_share":"1"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/market/securities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var securities []struct {
		Symbol string `json:"symbol"`
	}
	decode(t, rec, &securities)
	require.Len(t, securities, 1)
	assert.Equal(t, "AAPL", securities[0].Symbol)

	rec = do(t, s, http.MethodPost, "/api/users/1/transactions",
		`{"symbol":"AAPL","side":"BUY","quantity":"10","price_per_unit":"100","fees":"0","trade_date":"2024-01-02"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/users/1/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []struct {
		MarketValue string `json:"market_value"`
		WeightPct   string `json:"weight_pct"`
	}
	decode(t, rec, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "1200", positions[0].MarketValue)
	assert.Equal(t, "100", positions[0].WeightPct)

	rec = do(t, s, http.MethodGet, "/api/users/1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		TotalValue     string `json:"total_value"`
		TotalDividends string `json:"total_dividends"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, "1200", summary.TotalValue)
	assert.Equal(t, "10", summary.TotalDividends)

	// the add queued a recompute and the summary a reconcile; the processor is not running
	assert.Equal(t, 2, container.WorkProcessor.Pending())

	rec = do(t, s, http.MethodGet, "/api/users/1/positions/aapl", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/users/1/positions/MSFT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := container.SnapshotService.Reconcile(context.Background(), 1)
	require.NoError(t, err)

	rec = do(t, s, http.MethodGet, "/api/users/1/snapshots?period=1M", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var series struct {
		Period string `json:"period"`
		Points []struct {
			Date  string  `json:"date"`
			Value float64 `json:"value"`
		} `json:"points"`
	}
	decode(t, rec, &series)
	assert.Equal(t, "1M", series.Period)
	require.Len(t, series.Points, 9)
	assert.Equal(t, "2024-01-02", series.Points[0].Date)
	assert.Equal(t, 1200.0, series.Points[8].Value)
}

func TestSummary_ReconcilesClosedPortfolios(t *testing.T) {
	s, container := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/users/3/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, container.WorkProcessor.Pending(), "nothing to reconcile without trades")

	rec = do(t, s, http.MethodPost, "/api/users/3/transactions",
		`{"symbol":"AAPL","side":"BUY","quantity":"5","price_per_unit":"100","fees":"0","trade_date":"2024-01-02"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/api/users/3/transactions",
		`{"symbol":"AAPL","side":"SELL","quantity":"5","price_per_unit":"110","fees":"0","trade_date":"2024-01-05"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	// both recomputes coalesce into one queued item
	require.Equal(t, 1, container.WorkProcessor.Pending())

	rec = do(t, s, http.MethodGet, "/api/users/3/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		NumPositions     int    `json:"num_positions"`
		TotalRealizedPnL string `json:"total_realized_pnl"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, 0, summary.NumPositions)
	assert.Equal(t, "50", summary.TotalRealizedPnL)
	assert.Equal(t, 2, container.WorkProcessor.Pending())
}

func TestMarket_InvalidRows(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/market/prices", `[{"symbol":"AAPL","date":"2024-01-02","close":"0"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/market/dividends", `{"symbol":"AAPL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecomputeAndReconcile(t *testing.T) {
	s, container := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/users/3/recompute", `{"from_date":"2024-01-05"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp snapshothandlers.QueuedResponse
	decode(t, rec, &resp)
	assert.Equal(t, snapshothandlers.QueuedResponse{Status: "queued", WorkType: work.TypeSnapshotRecompute, Subject: "3", From: "2024-01-05"}, resp)

	// an empty body recomputes everything and merges into the queued item
	rec = do(t, s, http.MethodPost, "/api/users/3/recompute", "")
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/users/3/recompute", `{"from_date":"Jan 5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/users/3/reconcile", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, 2, container.WorkProcessor.Pending())
}

func TestStatusEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/work/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ws workStatusResponse
	decode(t, rec, &ws)
	assert.Equal(t, 0, ws.Pending)
	assert.Empty(t, ws.Running)

	rec = do(t, s, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status systemStatusResponse
	decode(t, rec, &status)
	assert.Contains(t, status.Databases, "folio")
	assert.Contains(t, status.Databases, "cache")
	assert.Positive(t, status.Goroutines)
}

func TestEventsWebSocket(t *testing.T) {
	s, container := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events/ws?user_id=7&types=SNAPSHOTS_UPDATED", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The server subscribes after the handshake, so keep emitting until one lands
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				container.EventBus.Emit("test", &events.PricesIngestedData{Rows: 1})
				container.EventBus.Emit("test", &events.SnapshotsUpdatedData{UserID: 8, Days: 5})
				container.EventBus.Emit("test", &events.SnapshotsUpdatedData{UserID: 7, Days: 3})
			}
		}
	}()

	var msg struct {
		Type   events.EventType `json:"type"`
		Module string           `json:"module"`
		Data   struct {
			UserID int64 `json:"user_id"`
			Days   int   `json:"days"`
		} `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, events.SnapshotsUpdated, msg.Type)
	assert.Equal(t, "test", msg.Module)
	assert.Equal(t, int64(7), msg.Data.UserID)
	assert.Equal(t, 3, msg.Data.Days)
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, map[events.EventType]bool{
		events.SnapshotsUpdated: true,
		events.TransactionAdded: true,
	}, parseTypes("SNAPSHOTS_UPDATED, TRANSACTION_ADDED,"))
}

func TestEventsWebSocket_RequiresUser(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, query := range []string{"", "?user_id=0", "?user_id=abc"} {
		_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events/ws"+query, nil)
		require.Error(t, err, query)
		require.NotNil(t, resp, query)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestEventsWebSocket_OriginCheck(t *testing.T) {
	s, container := newTestServer(t)
	withPatterns := New(Config{
		Log:              zerolog.Nop(),
		Container:        container,
		Port:             8001,
		WSOriginPatterns: []string{"*.example.com"},
	})

	dial := func(s *Server, origin string) (*http.Response, error) {
		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events/ws?user_id=1",
			&websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{origin}}})
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
		return resp, err
	}

	resp, err := dial(s, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = dial(withPatterns, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err = dial(withPatterns, "https://app.example.com")
	assert.NoError(t, err)
}

func TestVisibleTo(t *testing.T) {
	tests := []struct {
		name string
		data events.EventData
		want bool
	}{
		{"own transaction", &events.TransactionChangedData{UserID: 1}, true},
		{"other transaction", &events.TransactionChangedData{UserID: 2}, false},
		{"own snapshots", &events.SnapshotsUpdatedData{UserID: 1}, true},
		{"other snapshots", &events.SnapshotsUpdatedData{UserID: 2}, false},
		{"prices", &events.PricesIngestedData{Rows: 1}, true},
		{"dividends", &events.DividendsIngestedData{Rows: 1}, true},
		{"errors", &events.ErrorEventData{Error: "boom"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := events.Event{Type: tt.data.EventType(), Data: tt.data}
			assert.Equal(t, tt.want, visibleTo(event, 1))
		})
	}
}
