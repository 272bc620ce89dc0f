package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestListConnectorsFiltersByManagerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(listConnectorsResponse{
			Connectors: []connectorDTO{
				{ID: "c1", ManagerID: "mgr-1", RequestedStatus: "starting"},
				{ID: "c2", ManagerID: "mgr-other", RequestedStatus: "starting"},
			},
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "test-token")
	connectors, err := client.ListConnectors(context.Background(), "mgr-1")
	assert.NoError(t, err)
	if assert.Len(t, connectors, 1, "defensive manager_id filter") {
		assert.Equal(t, "c1", connectors[0].ID)
	}
}

func TestRegisterSchemaUnknownIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{Code: "FIELD_UNKNOWN", Message: "unknown field"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok")
	err := client.Register(context.Background(), "mgr-1", "agent", []byte("pem"))
	assert.NoError(t, err, "want nil on schema-unknown (graceful degradation)")
}

func TestPingServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok")
	err := client.Ping(context.Background(), "mgr-1")
	assert.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestPingClientErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{Code: "BAD_REQUEST", Message: "nope"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok")
	err := client.Ping(context.Background(), "mgr-1")
	assert.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestReportLogsSkipsEmptyBatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok")
	assert.NoError(t, client.ReportLogs(context.Background(), "c1", nil))
	assert.False(t, called, "ReportLogs() made an HTTP call for an empty batch")
}

func TestReportHealthEncodesStartedAt(t *testing.T) {
	var got reportHealthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok")
	startedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.NoError(t, client.ReportHealth(context.Background(), "c1", 4, &startedAt, true))
	if assert.NotNil(t, got.StartedAt) {
		assert.Equal(t, "2026-01-02T03:04:05Z", *got.StartedAt)
	}
	assert.True(t, got.IsInRebootLoop)
}

func TestConnectorLogsDecodesBothShapes(t *testing.T) {
	var arr connectorLogs
	assert.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &arr))
	assert.Len(t, arr, 2)

	var str connectorLogs
	assert.NoError(t, json.Unmarshal([]byte(`"a\nb"`), &str))
	if assert.Len(t, str, 1) {
		assert.Equal(t, "a\nb", str[0])
	}
}
