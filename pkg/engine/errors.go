package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: a held state lock, a stale state version.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, permission denied, resource not found.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ErrorKind is the user-facing taxonomy an error belongs to.
type ErrorKind string

const (
	// KindConfig is bad or ambiguous input. Fatal before any apply.
	KindConfig ErrorKind = "config"

	// KindUnsupportedCombination is a (kind, provider) pair with no registered builder.
	KindUnsupportedCombination ErrorKind = "unsupported_combination"

	// KindCycle is a dependency cycle between resources.
	KindCycle ErrorKind = "cycle"

	// KindProviderTransient is a provider failure worth retrying.
	KindProviderTransient ErrorKind = "provider_transient"

	// KindProviderValidation is a provider rejecting a resource. Fatal for its subtree.
	KindProviderValidation ErrorKind = "provider_validation"

	// KindStateConflict means another run holds the lock or the state version moved.
	KindStateConflict ErrorKind = "state_conflict"

	// KindPartialFailure is the run-level summary when some units failed.
	KindPartialFailure ErrorKind = "partial_failure"

	// KindCancelled is a run that stopped before finishing.
	KindCancelled ErrorKind = "cancelled"

	// KindInternal is anything else.
	KindInternal ErrorKind = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the taxonomy bucket used for reporting and exit codes.
	Kind ErrorKind `json:"kind"`

	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Field is the configuration or attribute field at fault, if known.
	Field string `json:"field,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A target with an empty Code matches every error of the same Kind.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrConfig                 = &EngineError{Kind: KindConfig}
	ErrAmbiguousAlias         = &EngineError{Kind: KindConfig, Code: ErrCodeAmbiguousAlias}
	ErrPolicyViolation        = &EngineError{Kind: KindConfig, Code: ErrCodePolicyViolation}
	ErrUnsupportedCombination = &EngineError{Kind: KindUnsupportedCombination}
	ErrCycleDetected          = &EngineError{Kind: KindCycle}
	ErrProviderTransient      = &EngineError{Kind: KindProviderTransient}
	ErrProviderValidation     = &EngineError{Kind: KindProviderValidation}
	ErrStateConflict          = &EngineError{Kind: KindStateConflict}
	ErrCancelled              = &EngineError{Kind: KindCancelled}
	ErrInternal               = &EngineError{Kind: KindInternal}
)

// NewConfigError creates an error for bad configuration input at field.
func NewConfigError(field, message string) *EngineError {
	return &EngineError{
		Kind:    KindConfig,
		Class:   ErrorClassPermanent,
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// NewAmbiguousAliasError reports two aliases of one option carrying different values.
func NewAmbiguousAliasError(first, second string, a, b interface{}) *EngineError {
	return &EngineError{
		Kind:    KindConfig,
		Class:   ErrorClassPermanent,
		Code:    ErrCodeAmbiguousAlias,
		Message: fmt.Sprintf("%s=%v conflicts with %s=%v", first, a, second, b),
		Field:   first,
		Details: map[string]interface{}{"conflictsWith": second},
	}
}

// NewUnsupportedCombinationError reports a missing builder registration.
func NewUnsupportedCombinationError(kind ResourceKind, provider ProviderKind) *EngineError {
	return &EngineError{
		Kind:    KindUnsupportedCombination,
		Class:   ErrorClassPermanent,
		Code:    ErrCodeUnsupported,
		Message: fmt.Sprintf("no builder registered for %s on %s", kind, provider),
		Details: map[string]interface{}{"kind": string(kind), "provider": string(provider)},
	}
}

// NewCycleError reports a dependency cycle. path starts and ends with the same id.
func NewCycleError(path []string) *EngineError {
	return &EngineError{
		Kind:    KindCycle,
		Class:   ErrorClassPermanent,
		Code:    ErrCodeCycle,
		Message: "dependency cycle detected: " + strings.Join(path, " -> "),
		Details: map[string]interface{}{"cycle": path},
	}
}

// NewTransientError creates a new transient provider error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindProviderTransient,
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled provider error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindProviderTransient,
		Class:   ErrorClassThrottled,
		Code:    ErrCodeRateLimited,
		Message: message,
		Err:     err,
	}
}

// NewProviderValidationError creates an error for a provider rejecting field of resource.
func NewProviderValidationError(resource, field, message string, err error) *EngineError {
	return &EngineError{
		Kind:     KindProviderValidation,
		Class:    ErrorClassPermanent,
		Code:     ErrCodeValidation,
		Message:  message,
		Resource: resource,
		Field:    field,
		Err:      err,
	}
}

// NewStateConflictError creates a new state conflict error.
func NewStateConflictError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindStateConflict,
		Class:   ErrorClassConflict,
		Code:    ErrCodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindCancelled,
		Class:   ErrorClassPermanent,
		Code:    ErrCodeCancelled,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent internal error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindInternal,
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithField adds the offending field to an error.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// UnitFailure attributes one apply failure to its resource.
type UnitFailure struct {
	ResourceID string
	Operation  OperationType
	Err        error
}

// PartialFailureError aggregates every unit failure of a run.
type PartialFailureError struct {
	RunID     string
	Succeeded int
	Failures  []UnitFailure
}

// Error implements the error interface.
func (e *PartialFailureError) Error() string {
	failures := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		failures = append(failures, fmt.Sprintf("%s (%s): %v", f.ResourceID, f.Operation, f.Err))
	}
	sort.Strings(failures)
	return fmt.Sprintf("[%s] run %s: %d unit(s) failed, %d succeeded: %s",
		KindPartialFailure, e.RunID, len(e.Failures), e.Succeeded, strings.Join(failures, "; "))
}

// Unwrap exposes every unit error to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// KindOf returns the taxonomy kind of err, KindInternal when unclassified.
func KindOf(err error) ErrorKind {
	var pf *PartialFailureError
	if errors.As(err, &pf) {
		return KindPartialFailure
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient and throttled provider errors are retried; a state
// conflict must never be retried into success.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeAmbiguousAlias   = "AMBIGUOUS_ALIAS"
	ErrCodeInvalidValue     = "INVALID_VALUE"
	ErrCodePolicyViolation  = "POLICY_VIOLATION"
	ErrCodeUnsupported      = "UNSUPPORTED_COMBINATION"
	ErrCodeCycle            = "CYCLE_DETECTED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeLockHeld         = "LOCK_HELD"
	ErrCodeStaleVersion     = "STALE_VERSION"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeProviderFailed   = "PROVIDER_FAILED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)
