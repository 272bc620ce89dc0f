/*
Package reconciler keeps the workloads in one orchestrator backend in step
with the connectors the platform declares for this manager.

# Tick

Start runs Tick every interval (the manager's reconcile_interval) until Stop
is called. One tick:

 1. Lists the declared connectors from the platform. A transient platform
    error skips the tick; any other error ends it and is returned.
 2. Lists the observed workloads from the orchestrator and keys them by
    connector id.
 3. Walks the union of declared and observed connector ids in lexicographic
    order and applies one action per id (see below). An error on one
    connector is logged and does not stop the others.
 4. Updates the connector gauges and, when a pipeline is configured, hands
    every workload left running to the log/health pipeline.

# Actions

A workload matches its connector when its contract_hash label equals the
declared contract hash and its image equals the declared image after
registry resolution (orchestrator.ResolveImageRef).

	declared, not observed                 deploy (started if requested=starting)
	declared, observed, not matching       stop if running, remove, deploy
	declared, observed, starting, stopped  start, report current=started
	declared, observed, stopping, running  stop, report current=stopped
	declared, observed, otherwise          no action, report current status
	not declared, observed                 remove

Every successful deploy reports current=started or current=stopped. Removing
an undeclared workload reports nothing to the platform.

# Deploy failures

Contract configuration values are decrypted with the agent's private key
before Deploy is called, and all of them become environment variables. A
value that cannot be decrypted parks the connector at once. Image pull
failures are counted per connector, and the fifth consecutive one parks it.
Parking sends one log line naming the cause (never a secret value) and asks
the platform to set requested=stopping.

# Shutdown

Stop ends the loop without waiting for a tick already in progress.

# Metrics

Each tick observes composer_reconcile_duration_seconds and increments
composer_reconcile_cycles_total; each action increments
composer_reconcile_actions_total with its action label.
*/
package reconciler
