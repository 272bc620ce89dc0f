package types

import "time"

// RequestedStatus is the lifecycle state the platform wants a connector in.
type RequestedStatus string

const (
	RequestedStatusStarting RequestedStatus = "starting"
	RequestedStatusStopping RequestedStatus = "stopping"
)

// CurrentStatus is the last lifecycle state the agent reported to the platform.
type CurrentStatus string

const (
	CurrentStatusStarted CurrentStatus = "started"
	CurrentStatusStopped CurrentStatus = "stopped"
)

// WorkloadStatus is the observed state of a workload in the orchestrator.
type WorkloadStatus string

const (
	WorkloadStatusRunning WorkloadStatus = "running"
	WorkloadStatusStopped WorkloadStatus = "stopped"
	WorkloadStatusPending WorkloadStatus = "pending"
	WorkloadStatusFailed  WorkloadStatus = "failed"
	WorkloadStatusUnknown WorkloadStatus = "unknown"
)

// Label keys attached to every workload the agent creates.
const (
	LabelManagerID    = "filigran.io/manager_id"
	LabelConnectorID  = "filigran.io/connector_id"
	LabelContractHash = "filigran.io/contract_hash"
)

// ContractConfigEntry is one RSA-OAEP wrapped configuration value as declared
// by the platform. Value holds base64 ciphertext until Crypto decrypts it.
type ContractConfigEntry struct {
	Key   string
	Value string
}

// ManagedConnector is the declared state of a connector as reported by the platform.
type ManagedConnector struct {
	ID                    string
	Name                  string
	ManagerID             string
	ContractImage         string
	ContractHash          string
	ContractConfiguration []ContractConfigEntry
	RequestedStatus       RequestedStatus
	CurrentStatus         CurrentStatus
	ConnectorUserID       string
	// PreviousLogLines is the platform's last-known log batch for this
	// connector, as returned by list_connectors. It is informational only:
	// the reconciler never reads it back to decide an action.
	PreviousLogLines []string
}

// EnvVar is a single environment variable injected into a workload.
type EnvVar struct {
	Key   string
	Value string
}

// WorkloadSpec describes the workload the orchestrator should create for a connector.
type WorkloadSpec struct {
	ConnectorID     string
	Name            string
	ImageRef        string
	Env             []EnvVar
	ContractHash    string
	RequestedStatus RequestedStatus
}

// Workload is the observed state of a connector's container in the orchestrator.
type Workload struct {
	Name         string
	ConnectorID  string
	Labels       map[string]string
	Image        string
	Status       WorkloadStatus
	RestartCount int
	StartedAt    time.Time
}

// ContractHash returns the contract_hash label, or the empty string if absent.
func (w Workload) ContractHash() string {
	return w.Labels[LabelContractHash]
}

// ManagerID returns the manager_id label, or the empty string if absent.
func (w Workload) ManagerID() string {
	return w.Labels[LabelManagerID]
}

// RestartSample is one observation of a workload's restart count, taken at tick time.
type RestartSample struct {
	At    time.Time
	Count int
}

// ConnectorState is the log/health pipeline's per-connector bookkeeping (log
// cursor, restart history, reboot-loop flag), carried between ticks. Unlike
// ManagedConnector and Workload it is not derived from the platform or the
// orchestrator; it is the agent's own memory and is never persisted (lost on
// restart, rebuilt from the first few ticks). ConsecutivePullErr is not
// updated by either package; the reconciler counts pull failures in its own
// map.
type ConnectorState struct {
	LastLogLineTime    time.Time
	RestartHistory     []RestartSample
	IsInRebootLoop     bool
	RebootLoopClearsAt time.Time
	ConsecutivePullErr int
}
