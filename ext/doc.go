// Package ext defines the extension system for Courier.
//
// Extensions are notified of instance lifecycle events and can react to
// them by recording metrics, writing audit logs or alerting. Each lifecycle
// hook is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnInstanceCompleted(ctx context.Context, inst *trigger.Instance, elapsed time.Duration) error {
//	    log.Printf("instance %s completed in %s", inst.ID, elapsed)
//	    return nil
//	}
//
// # Instance Lifecycle Hooks
//
//   - [InstanceIngested]: a trigger created a new instance
//   - [InstanceRetrying]: a step failed and the instance will be retried
//   - [InstanceCompleted]: the instance reached a terminal node
//   - [InstanceFailed]: the instance failed terminally
//   - [InstanceCancelled]: the instance was cancelled
//   - [InstanceDLQ]: a failed instance was moved to the dead letter queue
//
// # Step Hooks
//
//   - [StepCompleted]: a node executed successfully
//   - [StepFailed]: a node execution failed
//
// # Other Hooks
//
//   - [CronFired]: a cron entry fired
//   - [Shutdown]: the engine is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
