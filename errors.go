package courier

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("courier: no store configured")
	ErrMigrationFailed = errors.New("courier: migration failed")

	// Not found errors.
	ErrWorkflowNotFound = errors.New("courier: workflow not found")
	ErrNodeNotFound     = errors.New("courier: node not found")
	ErrInstanceNotFound = errors.New("courier: trigger instance not found")
	ErrDLQNotFound      = errors.New("courier: dlq entry not found")
	ErrCronNotFound     = errors.New("courier: cron entry not found")

	// Definition errors.
	ErrGraphInvalid      = errors.New("courier: workflow graph invalid")
	ErrWorkflowNotActive = errors.New("courier: workflow not active")
	ErrWorkflowExists    = errors.New("courier: workflow version already exists")
	ErrDuplicateCron     = errors.New("courier: duplicate cron entry")

	// Ingestion errors.
	ErrInvalidIdempotencyKey = errors.New("courier: invalid idempotency key")
	ErrInvalidPayload        = errors.New("courier: payload must be a JSON object")

	// Execution errors. These never reach ingestion callers; they are
	// recorded in the step log and reflected in the instance status.
	ErrNoBranchMatched      = errors.New("courier: no branch condition matched")
	ErrRetryBudgetExhausted = errors.New("courier: retry budget exhausted")
	ErrIterationLimit       = errors.New("courier: loop iteration limit reached")
	ErrNoProvider           = errors.New("courier: no delivery provider for channel")

	// State errors.
	ErrInvalidState = errors.New("courier: invalid state transition")
	ErrClaimLost    = errors.New("courier: instance claim lost")
	ErrDLQReplayed  = errors.New("courier: dlq entry already replayed")

	// Authorization errors.
	ErrForbidden = errors.New("courier: forbidden")
)
