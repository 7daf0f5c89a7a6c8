// Package script wraps the six atomic Lua scripts that make up the write
// path: every mutation, no matter how it is expressed at the repository
// layer, is compiled into a MutationCommand and executed as a single
// round-trip EVALSHA against the backend.
package script

import "fmt"

// ErrorCode is one of the taxonomy codes a script can return in its
// "error" field.
type ErrorCode string

const (
	CodeVersionConflict   ErrorCode = "version_conflict"
	CodeEntityNotFound    ErrorCode = "entity_not_found"
	CodeUniqueViolation   ErrorCode = "unique_constraint_violation"
	CodeInvalidRequest    ErrorCode = "invalid_request"
	CodeOther             ErrorCode = "other"
)

// VersionConflictError reports an optimistic-concurrency mismatch.
type VersionConflictError struct {
	Expected *int64
	Actual   *int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict (expected %s, actual %s)", formatPtr(e.Expected), formatPtr(e.Actual))
}

// NotFoundError reports that the target entity did not exist at mutation time.
type NotFoundError struct {
	EntityID string
}

func (e *NotFoundError) Error() string {
	if e.EntityID == "" {
		return "entity not found"
	}
	return fmt.Sprintf("entity not found: %s", e.EntityID)
}

// UniqueConstraintViolationError reports a collision on a unique or
// compound-unique index.
type UniqueConstraintViolationError struct {
	Fields          []string
	Values          []string
	ExistingEntityID string
}

func (e *UniqueConstraintViolationError) Error() string {
	return fmt.Sprintf("unique constraint violation: fields %v values %v already held by entity %q",
		e.Fields, e.Values, e.ExistingEntityID)
}

// InvalidRequestError reports a malformed command, query, or filter.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Message }

// OtherError is the catch-all for cycle detection, depth overflow, and any
// other script-internal failure not covered by a dedicated type.
type OtherError struct {
	Message string
}

func (e *OtherError) Error() string { return e.Message }

func formatPtr(v *int64) string {
	if v == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *v)
}

// decodeError turns a script's decoded `error` field (plus the rest of its
// response object) into a typed Go error. resp is the full decoded JSON
// response map; code is resp["error"].
func decodeError(code string, resp map[string]any) error {
	switch ErrorCode(code) {
	case CodeVersionConflict:
		return &VersionConflictError{
			Expected: int64PtrFromAny(resp["expected"]),
			Actual:   int64PtrFromAny(resp["actual"]),
		}
	case CodeEntityNotFound:
		id, _ := resp["entity_id"].(string)
		return &NotFoundError{EntityID: id}
	case CodeUniqueViolation:
		return &UniqueConstraintViolationError{
			Fields:           stringSliceFromAny(resp["fields"]),
			Values:           stringSliceFromAny(resp["values"]),
			ExistingEntityID: stringFromAny(resp["existing_entity_id"]),
		}
	case CodeInvalidRequest:
		return &InvalidRequestError{Message: stringFromAny(resp["message"])}
	default:
		msg := stringFromAny(resp["message"])
		if msg == "" {
			msg = code
		}
		return &OtherError{Message: msg}
	}
}

func int64PtrFromAny(v any) *int64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func stringSliceFromAny(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", e))
		}
	}
	return out
}
