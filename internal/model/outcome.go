package model

// ErrorKind classifies publish failures
type ErrorKind string

const (
	ErrValidation        ErrorKind = "validation_error"
	ErrAuthentication    ErrorKind = "authentication_error"
	ErrTokenExpired      ErrorKind = "token_expired_error"
	ErrConflict          ErrorKind = "conflict_error"
	ErrNetwork           ErrorKind = "network_error"
	ErrUnsupportedTarget ErrorKind = "unsupported_target_error"
	ErrUnknownRemote     ErrorKind = "unknown_remote_error"
	ErrNotNotable        ErrorKind = "not_notable"
)

// Target selects the remote deployment
type Target string

const (
	TargetSandbox    Target = "sandbox"
	TargetProduction Target = "production"
)

// PublishAction records whether an entity was created or updated
type PublishAction string

const (
	ActionCreate PublishAction = "create"
	ActionUpdate PublishAction = "update"
)

// OutcomeError is the failure carried by an unsuccessful outcome
type OutcomeError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	ExistingID string    `json:"existing_id,omitempty"` // Set for conflicts when the remote names the entity
}

// PublishOutcome is the terminal value of a publish attempt
type PublishOutcome struct {
	Success         bool          `json:"success"`
	Identifier      string        `json:"identifier,omitempty"`
	Revision        int64         `json:"revision,omitempty"`
	PublishedTarget string        `json:"published_target"`
	Action          PublishAction `json:"action,omitempty"`
	DryRun          bool          `json:"dry_run,omitempty"`
	Error           *OutcomeError `json:"error,omitempty"`
}
