package assessment

import "errors"

var (
	// ErrNotRegistered means the chat identity has no linked roster record.
	ErrNotRegistered = errors.New("identity is not registered")
	// ErrAlreadyCompleted means the single attempt was already used.
	ErrAlreadyCompleted = errors.New("test already completed")
	// ErrAlreadyActive means a session is in progress.
	ErrAlreadyActive = errors.New("test already in progress")
	// ErrInsufficientQuestions means the bank holds fewer questions than a test needs.
	ErrInsufficientQuestions = errors.New("not enough questions in the bank")
	// ErrUnrecoverableSession means the in-flight state of an unfinished session was lost.
	ErrUnrecoverableSession = errors.New("session progress lost")
	// ErrIntegrityViolation means a concurrent write broke a uniqueness constraint.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrDeliveryFailure wraps errors from outbound delivery channels.
	ErrDeliveryFailure = errors.New("delivery failed")

	// ErrAlreadyRegistered means the chat identity is already linked.
	ErrAlreadyRegistered = errors.New("account already registered")
	// ErrPINNotFound means no roster record carries the PIN.
	ErrPINNotFound = errors.New("pin not found")
	// ErrPINTaken means the roster record is linked to another account.
	ErrPINTaken = errors.New("pin already used")
)
