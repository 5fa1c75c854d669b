package redis

import "strconv"

// Redis key naming conventions for courier data. All keys share a prefix,
// "courier:" unless WithPrefix says otherwise.

const defaultPrefix = "courier:"

type keys struct {
	prefix string
}

// ── Workflow keys ──

// workflow returns the key of a workflow JSON value: courier:wf:{id}
func (k keys) workflow(id string) string { return k.prefix + "wf:" + id }

// versions returns the Hash mapping version -> workflow id for a code.
func (k keys) versions(code string) string { return k.prefix + "wf_versions:" + code }

// codes is the Set of every published workflow code.
func (k keys) codes() string { return k.prefix + "wf_codes" }

// active is the Hash mapping code -> id of the active version.
func (k keys) active() string { return k.prefix + "wf_active" }

// nodes returns the Hash mapping node id -> node JSON for a workflow.
func (k keys) nodes(workflowID string) string { return k.prefix + "wf_nodes:" + workflowID }

// edges returns the key of the ordered edge list JSON for a workflow.
func (k keys) edges(workflowID string) string { return k.prefix + "wf_edges:" + workflowID }

// ── Instance keys ──

// instancePrefix prefixes instance Hash keys; the Lua scripts append ids.
func (k keys) instancePrefix() string { return k.prefix + "inst:" }

// instance returns the Hash key of an instance: courier:inst:{id}
func (k keys) instance(id string) string { return k.instancePrefix() + id }

// idempotency returns the key reserving a (workflow, key) pair.
func (k keys) idempotency(workflowID, key string) string {
	return k.prefix + "inst_key:" + workflowID + ":" + strconv.Quote(key)
}

// ready is the Sorted Set of claimable instances scored by AvailableAt.
func (k keys) ready() string { return k.prefix + "ready" }

// processing is the Sorted Set of claimed instances scored by heartbeat.
func (k keys) processing() string { return k.prefix + "processing" }

// instances is the Sorted Set of every instance scored by CreatedAt.
func (k keys) instances() string { return k.prefix + "inst_ids" }

// workflowInstances is the per-workflow variant of instances.
func (k keys) workflowInstances(workflowID string) string {
	return k.prefix + "inst_wf:" + workflowID
}

// steps returns the List of step log JSON entries of an instance.
func (k keys) steps(instanceID string) string { return k.prefix + "steps:" + instanceID }

// ── DLQ keys ──

// dlq returns the key of a DLQ entry JSON value: courier:dlq:{id}
func (k keys) dlq(id string) string { return k.prefix + "dlq:" + id }

// dlqIDs is the Sorted Set of DLQ entry ids scored by FailedAt.
func (k keys) dlqIDs() string { return k.prefix + "dlq_ids" }

// dlqReplays is the Hash mapping DLQ entry id -> replay marker JSON.
func (k keys) dlqReplays() string { return k.prefix + "dlq_replays" }

// ── Cron keys ──

// cron returns the key of a cron entry JSON value: courier:cron:{id}
func (k keys) cron(id string) string { return k.prefix + "cron:" + id }

// cronIDs is the Set tracking all cron ids for enumeration.
func (k keys) cronIDs() string { return k.prefix + "cron_ids" }

// cronNames maps cron names to ids for duplicate detection.
func (k keys) cronNames() string { return k.prefix + "cron_names" }
