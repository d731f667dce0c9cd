package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("quill error %d: %s", e.Code, e.Message)
}

// Is lets wrapped EngineErrors match their sentinel by code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- State / promotion errors (-41010 to -41029) ----

var (
	ErrLoadFailed   = &EngineError{Code: -41010, Message: "promotion could not read a required path"}
	ErrStaleRead    = &EngineError{Code: -41011, Message: "reader observed a version older than requested"}
	ErrUnknownPath  = &EngineError{Code: -41012, Message: "path is not known to the state store"}
	ErrKindMismatch = &EngineError{Code: -41013, Message: "entry kind does not allow this transition"}
)

// ---- Queue / consolidation errors (-41030 to -41049) ----

var (
	ErrSpecInvalid    = &EngineError{Code: -41030, Message: "change spec failed validation"}
	ErrSpecNotFound   = &EngineError{Code: -41031, Message: "change spec not found"}
	ErrQueueCorrupt   = &EngineError{Code: -41032, Message: "serialized queue payload is corrupt"}
	ErrChangeConflict = &EngineError{Code: -41033, Message: "conflicting change types on the same path"}
)

// ---- Apply transaction errors (-41050 to -41079) ----

var (
	ErrBusy          = &EngineError{Code: -41050, Message: "an apply transaction is already in flight"}
	ErrSchemaInvalid = &EngineError{Code: -41051, Message: "external response failed schema validation"}
	ErrWriteFailed   = &EngineError{Code: -41052, Message: "file write failed"}
	ErrIncompatible  = &EngineError{Code: -41053, Message: "external step declined the request as incompatible"}
	ErrNothingToDo   = &EngineError{Code: -41054, Message: "no pending changes to apply"}
)

// ---- Model boundary errors (-41080 to -41099) ----

var (
	ErrModelCall     = &EngineError{Code: -41080, Message: "model call failed"}
	ErrToolUnknown   = &EngineError{Code: -41081, Message: "model requested an unknown tool"}
	ErrToolLoopLimit = &EngineError{Code: -41082, Message: "exceeded maximum tool-call turns"}
	ErrRateLimited   = &EngineError{Code: -41083, Message: "model call rate limit exceeded"}
)

// ---- Repository / store / config errors (-41100 to -41129) ----

var (
	ErrPathEscapesRoot = &EngineError{Code: -41100, Message: "path escapes repository root"}
	ErrNotFound        = &EngineError{Code: -41101, Message: "file not found"}
	ErrStoreInit       = &EngineError{Code: -41110, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -41111, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -41112, Message: "store write failed"}
	ErrConfigInvalid   = &EngineError{Code: -41120, Message: "invalid configuration"}
)
