package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/starlan-emulator/config"
	"github.com/nixxel-company-limited/starlan-emulator/metrics"
	"github.com/nixxel-company-limited/starlan-emulator/printer"
)

type fakeJobs struct {
	names []string
	err   error
}

func (f fakeJobs) List() ([]string, error) { return f.names, f.err }

func testConfig() config.HTTPConfig {
	return config.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.NewAppMetrics(reg)
	srv := New(testConfig(), Routes{Metrics: metrics.Handler(reg), Ready: func() bool { return true }})

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/readyz").Code)

	rr := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "starlan_event_toggle")
}

func TestReadyzNotReady(t *testing.T) {
	srv := New(testConfig(), Routes{Ready: func() bool { return false }})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/readyz").Code)
}

func TestStatus(t *testing.T) {
	dev := printer.New(nil, nil, printer.WithSettleDelay(0))
	session, err := dev.OpenSession()
	require.NoError(t, err)
	session.UpdateEventToggle()
	session.RecordOutput([]byte("abc"))

	srv := New(testConfig(), Routes{Printer: dev})
	rr := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, StatusResponse{
		EventToggle:    1,
		SessionOpen:    true,
		BufferedBlocks: 1,
		StatusFrame:    "238600000000000200",
	}, body)
}

func TestJobs(t *testing.T) {
	srv := New(testConfig(), Routes{Jobs: fakeJobs{names: []string{"2024-03-09-14-05-07"}}})
	rr := get(t, srv, "/jobs")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"jobs":["2024-03-09-14-05-07"]}`, rr.Body.String())

	srv = New(testConfig(), Routes{Jobs: fakeJobs{}})
	assert.JSONEq(t, `{"jobs":[]}`, get(t, srv, "/jobs").Body.String())

	srv = New(testConfig(), Routes{Jobs: fakeJobs{err: errors.New("disk gone")}})
	assert.Equal(t, http.StatusInternalServerError, get(t, srv, "/jobs").Code)
}

func TestUnconfiguredRoutesAreAbsent(t *testing.T) {
	srv := New(testConfig(), Routes{})
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/status").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/jobs").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/metrics").Code)
}
