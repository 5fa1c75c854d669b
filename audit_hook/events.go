package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionInstanceIngested  = "instance.ingested"
	ActionInstanceRetrying  = "instance.retrying"
	ActionInstanceCompleted = "instance.completed"
	ActionInstanceFailed    = "instance.failed"
	ActionInstanceCancelled = "instance.cancelled"
	ActionInstanceDLQ       = "instance.dlq"
	ActionStepCompleted     = "step.completed"
	ActionStepFailed        = "step.failed"
	ActionCronFired         = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryInstance = "courier.instance"
	CategoryStep     = "courier.step"
	CategoryCron     = "courier.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceInstance = "instance"
	ResourceStep     = "step"
	ResourceCron     = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionInstanceIngested,
		ActionInstanceRetrying,
		ActionInstanceCompleted,
		ActionInstanceFailed,
		ActionInstanceCancelled,
		ActionInstanceDLQ,
		ActionStepCompleted,
		ActionStepFailed,
		ActionCronFired,
	}
}
