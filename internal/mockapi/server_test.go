package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New([]string{"/trips", "/activities"}, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func token(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Get(base + "/auth/csrf-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	return body.CSRFToken
}

func do(t *testing.T, method, url, tok string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set(CSRFHeader, tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var env struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Data
}

func TestCreateGetReplaceDelete(t *testing.T) {
	var now atomic.Int64
	now.Store(1_000)
	s, ts := newTestServer(t, WithClock(func() time.Time { return time.UnixMilli(now.Load()) }))
	tok := token(t, ts.URL)

	resp := do(t, http.MethodPost, ts.URL+"/activities", tok, map[string]interface{}{"name": "Louvre"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData(t, resp)
	assert.Equal(t, "srv-1", created["id"])
	assert.EqualValues(t, 1000, created["updatedAt"])

	now.Store(2_000)
	resp = do(t, http.MethodPut, ts.URL+"/activities/srv-1", tok, map[string]interface{}{"name": "Orsay"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/activities/srv-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData(t, resp)
	assert.Equal(t, "Orsay", got["name"])
	assert.EqualValues(t, 2000, got["updatedAt"])
	assert.EqualValues(t, 1000, got["createdAt"])

	resp = do(t, http.MethodDelete, ts.URL+"/activities/srv-1", tok, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := s.Entity("/activities", "srv-1")
	assert.False(t, ok)

	writes := s.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, "/activities/srv-1", writes[1].Path)
	assert.Equal(t, http.MethodDelete, writes[2].Method)
}

func TestWritesRequireCSRF(t *testing.T) {
	s, ts := newTestServer(t)
	s.Seed("/trips", "t1", map[string]interface{}{"title": "Paris"})

	resp := do(t, http.MethodPut, ts.URL+"/trips/t1", "", map[string]interface{}{"title": "Rome"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_ = token(t, ts.URL)
	resp = do(t, http.MethodPut, ts.URL+"/trips/t1", "stale", map[string]interface{}{"title": "Rome"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	e, _ := s.Entity("/trips", "t1")
	assert.Equal(t, "Paris", e["title"])
	assert.Empty(t, s.Writes())
}

func TestMissingEntity(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/trips/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, ts = newTestServer(t, WithMissingAsNull())
	resp = do(t, http.MethodGet, ts.URL+"/trips/nope", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decodeData(t, resp))
}

func TestSeedKeepsUpdatedAt(t *testing.T) {
	s, ts := newTestServer(t)
	s.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel", "updatedAt": int64(50)})

	resp := do(t, http.MethodGet, ts.URL+"/activities/a1", "", nil)
	got := decodeData(t, resp)
	assert.EqualValues(t, 50, got["updatedAt"])
	assert.Equal(t, "a1", got["id"])
}

func TestFaultsAndCSRFStatus(t *testing.T) {
	s, ts := newTestServer(t)
	s.Seed("/trips", "t1", nil)

	s.SetFault(http.MethodGet, "/trips/t1", http.StatusServiceUnavailable)
	resp := do(t, http.MethodGet, ts.URL+"/trips/t1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.SetFault(http.MethodGet, "/trips/t1", 0)
	resp = do(t, http.MethodGet, ts.URL+"/trips/t1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.SetCSRFStatus(http.StatusInternalServerError)
	resp = do(t, http.MethodGet, ts.URL+"/auth/csrf-token", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestPrefixAndHealth(t *testing.T) {
	_, ts := newTestServer(t, WithPrefix("/api/"))
	resp := do(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error","code":500}`, rr.Body.String())
}
