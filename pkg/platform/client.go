// Package platform implements the agent's client for the threat-intelligence
// platform. The wire transport is HTTP+JSON standing in for the platform's
// actual GraphQL endpoint: transport internals are an external collaborator
// per the agent's scope, so this package specifies only the typed
// operations a caller needs, the way the teacher treats its containerd and
// gRPC clients as thin wrappers over a documented remote API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/log"
	"github.com/filigran/xtm-composer/pkg/metrics"
	"github.com/filigran/xtm-composer/pkg/types"
)

// Client is the typed interface the reconciler and log/health pipeline use
// to talk to the platform. It exists independently of HTTPClient, its
// concrete HTTP implementation, so tests can substitute a fake.
type Client interface {
	Register(ctx context.Context, managerID, name string, publicKeyPEM []byte) error
	Ping(ctx context.Context, managerID string) error
	ListConnectors(ctx context.Context, managerID string) ([]types.ManagedConnector, error)
	SetCurrentStatus(ctx context.Context, connectorID string, status types.CurrentStatus) error
	SetRequestedStatus(ctx context.Context, connectorID string, status types.RequestedStatus) error
	ReportLogs(ctx context.Context, connectorID string, lines []string) error
	ReportHealth(ctx context.Context, connectorID string, restartCount int, startedAt *time.Time, isInRebootLoop bool) error
	DeleteConnector(ctx context.Context, connectorID string) error
}

// HTTPClient is the default Client implementation.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mismatchOnce sync.Map // operation name -> *sync.Once
}

// NewHTTPClient builds a platform client rooted at baseURL, authenticating
// with an Authorization: Bearer header.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, op, path string, in, out interface{}) error {
	var body bytes.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return &errs.PlatformError{Op: op, Transient: false, Message: err.Error()}
		}
		body = *bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return &errs.PlatformError{Op: op, Transient: false, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.PlatformRequestsTotal.WithLabelValues(op, "transient_error").Inc()
		return &errs.PlatformError{Op: op, Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		metrics.PlatformRequestsTotal.WithLabelValues(op, "transient_error").Inc()
		return &errs.PlatformError{Op: op, Transient: true, Message: fmt.Sprintf("server error: %d", resp.StatusCode)}
	}

	if resp.StatusCode >= 400 {
		var errBody errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)

		if isSchemaUnknown(errBody.Code) {
			c.warnOnce(op)
			metrics.PlatformRequestsTotal.WithLabelValues(op, "protocol_mismatch").Inc()
			return &errs.ProtocolMismatch{Operation: op}
		}

		metrics.PlatformRequestsTotal.WithLabelValues(op, "error").Inc()
		return &errs.PlatformError{Op: op, Transient: false, Message: errBody.Message}
	}

	metrics.PlatformRequestsTotal.WithLabelValues(op, "ok").Inc()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &errs.PlatformError{Op: op, Transient: false, Message: "malformed response body: " + err.Error()}
		}
	}
	return nil
}

func isSchemaUnknown(code string) bool {
	return code == "FIELD_UNKNOWN" || code == "OPERATION_UNKNOWN"
}

func (c *HTTPClient) warnOnce(op string) {
	v, _ := c.mismatchOnce.LoadOrStore(op, &sync.Once{})
	v.(*sync.Once).Do(func() {
		logger := log.WithComponent("platform")
		logger.Warn().
			Str("operation", op).
			Msg("platform does not implement this operation; skipping on subsequent ticks")
	})
}

func (c *HTTPClient) Register(ctx context.Context, managerID, name string, publicKeyPEM []byte) error {
	err := c.do(ctx, "register", "/manager/register", registerRequest{
		ManagerID:    managerID,
		Name:         name,
		PublicKeyPEM: string(publicKeyPEM),
	}, nil)
	return skipIfMismatch(err)
}

func (c *HTTPClient) Ping(ctx context.Context, managerID string) error {
	return c.do(ctx, "ping", "/manager/ping", pingRequest{ManagerID: managerID}, nil)
}

func (c *HTTPClient) ListConnectors(ctx context.Context, managerID string) ([]types.ManagedConnector, error) {
	var resp listConnectorsResponse
	if err := c.do(ctx, "list_connectors", "/connectors/list", listConnectorsRequest{ManagerID: managerID}, &resp); err != nil {
		return nil, err
	}

	connectors := make([]types.ManagedConnector, 0, len(resp.Connectors))
	for _, dto := range resp.Connectors {
		// Defensive re-filter: invariant 1 requires the agent never act on a
		// connector belonging to another manager, even if the server-side
		// filter is buggy or stale.
		if dto.ManagerID != managerID {
			continue
		}
		connectors = append(connectors, dto.toDomain())
	}
	return connectors, nil
}

func (c *HTTPClient) SetCurrentStatus(ctx context.Context, connectorID string, status types.CurrentStatus) error {
	err := c.do(ctx, "set_current_status", "/connectors/current_status", setCurrentStatusRequest{
		ConnectorID: connectorID,
		Status:      string(status),
	}, nil)
	return skipIfMismatch(err)
}

func (c *HTTPClient) SetRequestedStatus(ctx context.Context, connectorID string, status types.RequestedStatus) error {
	err := c.do(ctx, "set_requested_status", "/connectors/requested_status", setRequestedStatusRequest{
		ConnectorID: connectorID,
		Status:      string(status),
	}, nil)
	return skipIfMismatch(err)
}

func (c *HTTPClient) ReportLogs(ctx context.Context, connectorID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	err := c.do(ctx, "report_logs", "/connectors/logs", reportLogsRequest{
		ConnectorID: connectorID,
		Lines:       connectorLogs(lines),
	}, nil)
	return skipIfMismatch(err)
}

func (c *HTTPClient) ReportHealth(ctx context.Context, connectorID string, restartCount int, startedAt *time.Time, isInRebootLoop bool) error {
	var startedAtStr *string
	if startedAt != nil && !startedAt.IsZero() {
		s := startedAt.UTC().Format(time.RFC3339)
		startedAtStr = &s
	}

	err := c.do(ctx, "report_health", "/connectors/health", reportHealthRequest{
		ConnectorID:    connectorID,
		RestartCount:   restartCount,
		StartedAt:      startedAtStr,
		IsInRebootLoop: isInRebootLoop,
	}, nil)
	return skipIfMismatch(err)
}

func (c *HTTPClient) DeleteConnector(ctx context.Context, connectorID string) error {
	err := c.do(ctx, "delete_connector", "/connectors/delete", deleteConnectorRequest{ConnectorID: connectorID}, nil)
	return skipIfMismatch(err)
}

// skipIfMismatch turns a ProtocolMismatch into a non-error: the caller
// already got its one warning from warnOnce and should proceed as if the
// call succeeded.
func skipIfMismatch(err error) error {
	var mismatch *errs.ProtocolMismatch
	if errors.As(err, &mismatch) {
		return nil
	}
	return err
}
