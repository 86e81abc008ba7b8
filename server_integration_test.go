package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(b)
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	initDB()
	_ = os.Setenv("LOCAL_DB_PATH", filepath.Join(t.TempDir(), "local.db"))
	initServices()
	t.Cleanup(func() { _ = local.Close() })
	// the suite drives connectivity by hand instead of running the prober
	syncer.online = true
	r := gin.Default()
	setupRoutes(r)
	return r
}

// decimalField reads a decimal from a decoded JSON object (shopspring
// marshals decimals as strings).
func decimalField(t *testing.T, m map[string]any, key string) decimal.Decimal {
	t.Helper()
	s, ok := m[key].(string)
	if !ok {
		t.Fatalf("field %q missing or not a string in %v", key, m)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("field %q = %q is not a decimal: %v", key, s, err)
	}
	return d
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)
	username := fmt.Sprintf("user%d", time.Now().UnixNano())

	// 1. Register user
	resp := performRequest(r, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	if resp.Code != 200 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 2. Login
	resp = performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	if resp.Code != 200 {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 3. Create profile
	resp = performRequest(r, http.MethodPost, "/profile",
		jsonBody(t, map[string]string{"display_name": "User One", "email": "u1@example.com"}), token)
	if resp.Code != 200 {
		t.Fatalf("create profile failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 4. Settings: defaults exist after register, then update them
	resp = performRequest(r, http.MethodGet, "/settings", nil, token)
	if resp.Code != 200 {
		t.Fatalf("get settings failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPut, "/settings", jsonBody(t, map[string]any{
		"currency": "EUR", "daily_goal": "10", "weekly_goal": "50",
		"theme": "dark", "week_start": "monday", "passcode": "123456",
	}), token)
	if resp.Code != 200 {
		t.Fatalf("put settings failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// invalid passcode is rejected
	resp = performRequest(r, http.MethodPut, "/settings", jsonBody(t, map[string]any{
		"currency": "EUR", "theme": "dark", "week_start": "monday", "passcode": "12345",
	}), token)
	if resp.Code != 400 {
		t.Fatalf("short passcode accepted, status=%d", resp.Code)
	}

	// 5. Create transactions
	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "50", "type": "deposit", "date": "2024-05-01", "description": "pay",
	}), token)
	if resp.Code != 200 {
		t.Fatalf("create deposit failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "20", "type": "withdrawal", "date": "2024-05-01",
	}), token)
	if resp.Code != 200 {
		t.Fatalf("create withdrawal failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// invalid type and non-positive amount are rejected
	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "5", "type": "transfer",
	}), token)
	if resp.Code != 400 {
		t.Fatalf("bad type accepted, status=%d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "0", "type": "deposit",
	}), token)
	if resp.Code != 400 {
		t.Fatalf("zero amount accepted, status=%d", resp.Code)
	}

	// 6. Day summary: deposits 50, withdrawals 20, net 30, count 2
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2024-05-01", nil, token)
	if resp.Code != 200 {
		t.Fatalf("day summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var sumResp struct {
		Summary map[string]any `json:"summary"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if d := decimalField(t, sumResp.Summary, "deposits"); !d.Equal(decimal.NewFromInt(50)) {
		t.Errorf("deposits = %s, want 50", d)
	}
	if w := decimalField(t, sumResp.Summary, "withdrawals"); !w.Equal(decimal.NewFromInt(20)) {
		t.Errorf("withdrawals = %s, want 20", w)
	}
	if n := decimalField(t, sumResp.Summary, "net_amount"); !n.Equal(decimal.NewFromInt(30)) {
		t.Errorf("net = %s, want 30", n)
	}
	if cnt, _ := sumResp.Summary["count"].(float64); cnt != 2 {
		t.Errorf("count = %v, want 2", sumResp.Summary["count"])
	}

	// 7. Week summary honors the monday week start set above
	resp = performRequest(r, http.MethodGet, "/summary/week?date=2024-05-01", nil, token)
	if resp.Code != 200 {
		t.Fatalf("week summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var weekResp struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &weekResp)
	if weekResp.From != "2024-04-29" || weekResp.To != "2024-05-05" {
		t.Errorf("week range = %s..%s, want 2024-04-29..2024-05-05", weekResp.From, weekResp.To)
	}

	// 8. Summary of an empty day is zero, not an error
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2019-01-01", nil, token)
	if resp.Code != 200 {
		t.Fatalf("empty day summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if cnt, _ := sumResp.Summary["count"].(float64); cnt != 0 {
		t.Errorf("empty day count = %v, want 0", sumResp.Summary["count"])
	}

	// 9. Savings record upsert is keyed by date: second write updates in place
	resp = performRequest(r, http.MethodPut, "/savings/2024-05-01",
		jsonBody(t, map[string]any{"amount": "15", "saved": true}), token)
	if resp.Code != 200 {
		t.Fatalf("savings upsert failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPut, "/savings/2024-05-01",
		jsonBody(t, map[string]any{"amount": "25", "saved": true}), token)
	if resp.Code != 200 {
		t.Fatalf("savings re-upsert failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/savings?from=2024-05-01&to=2024-05-01", nil, token)
	if resp.Code != 200 {
		t.Fatalf("list savings failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var recs []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &recs)
	if len(recs) != 1 {
		t.Fatalf("got %d savings records, want 1 (upsert should not duplicate)", len(recs))
	}
	// saved with zero amount is rejected
	resp = performRequest(r, http.MethodPut, "/savings/2024-05-02",
		jsonBody(t, map[string]any{"amount": "0", "saved": true}), token)
	if resp.Code != 400 {
		t.Fatalf("zero saved amount accepted, status=%d", resp.Code)
	}

	// 10. Progress endpoint
	resp = performRequest(r, http.MethodGet, "/progress", nil, token)
	if resp.Code != 200 {
		t.Fatalf("progress failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 11. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/transactions", nil, "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list got %d", unauth.Code)
	}
}

func TestOfflineWriteAndFlush(t *testing.T) {
	r := setupTestServer(t)
	username := fmt.Sprintf("offline%d", time.Now().UnixNano())

	resp := performRequest(r, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	if resp.Code != 200 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// drop the connection from the handlers' point of view
	syncer.mu.Lock()
	syncer.online = false
	syncer.mu.Unlock()

	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "5", "type": "deposit", "date": "2024-05-02",
	}), token)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("offline create status=%d body=%s, want 202", resp.Code, resp.Body.String())
	}
	if pending, _ := opQueue.Pending(); pending != 1 {
		t.Fatalf("pending ops = %d, want 1", pending)
	}

	// the buffered write is already visible in the day summary via the mirror
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2024-05-02", nil, token)
	if resp.Code != 200 {
		t.Fatalf("offline summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var sumResp struct {
		Summary map[string]any `json:"summary"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if d := decimalField(t, sumResp.Summary, "deposits"); !d.Equal(decimal.NewFromInt(5)) {
		t.Errorf("offline deposits = %s, want 5", d)
	}

	// reconnect and flush: the op replays, the queue drains, the summary holds
	syncer.mu.Lock()
	syncer.online = true
	syncer.mu.Unlock()
	resp = performRequest(r, http.MethodPost, "/sync/flush", nil, token)
	if resp.Code != 200 {
		t.Fatalf("flush failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var flushResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &flushResp)
	if replayed, _ := flushResp["replayed"].(float64); replayed != 1 {
		t.Errorf("replayed = %v, want 1", flushResp["replayed"])
	}
	if pending, _ := opQueue.Pending(); pending != 0 {
		t.Errorf("pending ops after flush = %d, want 0", pending)
	}
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2024-05-02", nil, token)
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if d := decimalField(t, sumResp.Summary, "deposits"); !d.Equal(decimal.NewFromInt(5)) {
		t.Errorf("post-flush deposits = %s, want 5", d)
	}
	if cnt, _ := sumResp.Summary["count"].(float64); cnt != 1 {
		t.Errorf("post-flush count = %v, want 1 (replay must not duplicate)", sumResp.Summary["count"])
	}

	// status endpoint reflects the drained queue
	resp = performRequest(r, http.MethodGet, "/sync/status", nil, token)
	if resp.Code != 200 {
		t.Fatalf("sync status failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestWritesWithRemoteUnreachable(t *testing.T) {
	r := setupTestServer(t)
	username := fmt.Sprintf("unreach%d", time.Now().UnixNano())

	resp := performRequest(r, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	if resp.Code != 200 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": username, "password": "pass123"}), "")
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// a missing row while the store is healthy is a plain 404
	resp = performRequest(r, http.MethodGet, "/transactions/999999999", nil, token)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("absent row status=%d, want 404", resp.Code)
	}
	if !syncer.Online() {
		t.Fatalf("a not-found row must not mark the store offline")
	}

	// sever the remote connection for real; the syncer still believes it is up
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	_ = sqlDB.Close()
	t.Cleanup(initDB)

	// a read hitting the dead handle goes offline instead of reporting 404-ish
	resp = performRequest(r, http.MethodGet, "/transactions/1", nil, token)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("read on dead store status=%d body=%s", resp.Code, resp.Body.String())
	}
	if syncer.Online() {
		t.Fatalf("a failing remote read must mark the store offline")
	}

	// the write path stays reachable: identity comes from the token, the write
	// is buffered, no remote round-trip needed
	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, map[string]any{
		"amount": "7", "type": "deposit", "date": "2024-06-02",
	}), token)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("write with dead store status=%d body=%s, want 202", resp.Code, resp.Body.String())
	}
	if pending, _ := opQueue.Pending(); pending != 1 {
		t.Fatalf("pending ops = %d, want 1", pending)
	}

	// and the buffered write is readable through the mirror
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2024-06-02", nil, token)
	if resp.Code != 200 {
		t.Fatalf("summary with dead store status=%d body=%s", resp.Code, resp.Body.String())
	}
	var sumResp struct {
		Summary map[string]any `json:"summary"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if d := decimalField(t, sumResp.Summary, "deposits"); !d.Equal(decimal.NewFromInt(7)) {
		t.Errorf("deposits = %s, want 7", d)
	}

	// reconnect and flush end to end
	initDB()
	syncer.mu.Lock()
	syncer.online = true
	syncer.mu.Unlock()
	resp = performRequest(r, http.MethodPost, "/sync/flush", nil, token)
	if resp.Code != 200 {
		t.Fatalf("flush failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	if pending, _ := opQueue.Pending(); pending != 0 {
		t.Errorf("pending ops after flush = %d, want 0", pending)
	}
	resp = performRequest(r, http.MethodGet, "/summary/day?date=2024-06-02", nil, token)
	_ = json.Unmarshal(resp.Body.Bytes(), &sumResp)
	if d := decimalField(t, sumResp.Summary, "deposits"); !d.Equal(decimal.NewFromInt(7)) {
		t.Errorf("post-flush deposits = %s, want 7", d)
	}
	if cnt, _ := sumResp.Summary["count"].(float64); cnt != 1 {
		t.Errorf("post-flush count = %v, want 1", sumResp.Summary["count"])
	}
}
