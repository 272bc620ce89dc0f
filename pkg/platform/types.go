package platform

import (
	"encoding/json"

	"github.com/filigran/xtm-composer/pkg/types"
)

// connectorConfigEntryDTO is the wire shape of one contract_configuration entry.
type connectorConfigEntryDTO struct {
	Key             string `json:"key"`
	ValueCiphertext string `json:"value_ciphertext"`
}

// connectorDTO is the wire shape of a managed connector as returned by
// list_connectors.
type connectorDTO struct {
	ID                    string                    `json:"id"`
	Name                  string                    `json:"name"`
	ManagerID             string                    `json:"manager_id"`
	ContractImage         string                    `json:"contract_image"`
	ContractHash          string                    `json:"contract_hash"`
	ContractConfiguration []connectorConfigEntryDTO `json:"contract_configuration"`
	RequestedStatus       string                    `json:"requested_status"`
	CurrentStatus         string                    `json:"current_status"`
	ConnectorUserID       string                    `json:"connector_user_id"`
	ManagerConnectorLogs  connectorLogs             `json:"manager_connector_logs,omitempty"`
}

func (d connectorDTO) toDomain() types.ManagedConnector {
	entries := make([]types.ContractConfigEntry, 0, len(d.ContractConfiguration))
	for _, e := range d.ContractConfiguration {
		entries = append(entries, types.ContractConfigEntry{Key: e.Key, Value: e.ValueCiphertext})
	}
	return types.ManagedConnector{
		ID:                    d.ID,
		Name:                  d.Name,
		ManagerID:             d.ManagerID,
		ContractImage:         d.ContractImage,
		ContractHash:          d.ContractHash,
		ContractConfiguration: entries,
		RequestedStatus:       types.RequestedStatus(d.RequestedStatus),
		CurrentStatus:         types.CurrentStatus(d.CurrentStatus),
		ConnectorUserID:       d.ConnectorUserID,
		PreviousLogLines:      d.ManagerConnectorLogs,
	}
}

// connectorLogs decodes manager_connector_logs defensively: older platform
// versions send a single newline-joined string, newer ones send an array.
// The agent always writes arrays (see report_logs), but must tolerate
// either shape on read.
type connectorLogs []string

func (c *connectorLogs) UnmarshalJSON(data []byte) error {
	var asArray []string
	if err := json.Unmarshal(data, &asArray); err == nil {
		*c = asArray
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return err
	}
	if asString == "" {
		*c = nil
		return nil
	}
	*c = connectorLogs{asString}
	return nil
}

func (c connectorLogs) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(c))
}

type registerRequest struct {
	ManagerID    string `json:"manager_id"`
	Name         string `json:"name"`
	PublicKeyPEM string `json:"public_key_pem"`
}

type pingRequest struct {
	ManagerID string `json:"manager_id"`
}

type listConnectorsRequest struct {
	ManagerID string `json:"manager_id"`
}

type listConnectorsResponse struct {
	Connectors []connectorDTO `json:"connectors"`
}

type setCurrentStatusRequest struct {
	ConnectorID string `json:"connector_id"`
	Status      string `json:"status"`
}

type setRequestedStatusRequest struct {
	ConnectorID string `json:"connector_id"`
	Status      string `json:"status"`
}

type reportLogsRequest struct {
	ConnectorID string        `json:"connector_id"`
	Lines       connectorLogs `json:"manager_connector_logs"`
}

type reportHealthRequest struct {
	ConnectorID    string  `json:"connector_id"`
	RestartCount   int     `json:"restart_count"`
	StartedAt      *string `json:"started_at,omitempty"`
	IsInRebootLoop bool    `json:"is_in_reboot_loop"`
}

type deleteConnectorRequest struct {
	ConnectorID string `json:"connector_id"`
}

// errorResponse is the shape of a failed operation. Code "FIELD_UNKNOWN" (or
// any code recognizable as a missing-schema error) triggers a ProtocolMismatch
// rather than a PlatformError.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}
