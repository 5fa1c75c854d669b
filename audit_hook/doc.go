// Package audithook is a Courier extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every instance, step and cron lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for retries and failed steps,
// critical for terminal failures) and metadata such as workflow, node,
// attempt and elapsed time.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionInstanceFailed,
//	        audithook.ActionInstanceDLQ,
//	        audithook.ActionInstanceCancelled,
//	    ),
//	)
package audithook
