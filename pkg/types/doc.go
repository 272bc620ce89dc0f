// Package types defines the data model shared by the platform client, the
// orchestrator backends, and the reconciler: declared connectors, observed
// workloads, and the reconciler's own per-connector bookkeeping.
package types
