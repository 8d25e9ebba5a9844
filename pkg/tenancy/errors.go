package tenancy

import (
	"errors"
	"fmt"
)

// Sentinel errors for malformed requests. These are the only failures the
// policy evaluator reports as errors rather than as a denial.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrRoleNotFound      = errors.New("role not found")
	ErrModuleNotFound    = errors.New("module not found")
	ErrInvalidPermission = errors.New("invalid permission slug")
)

// Generic categories that packages wrap with their own messages, e.g.
// fmt.Errorf("%w: slug already taken", tenancy.ErrConflict).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// ScopingViolationError reports an attempt to read or write tenant-scoped
// data without a tenant identifier. It is a programming error.
type ScopingViolationError struct {
	EntityType string
	Operation  string
}

func (e *ScopingViolationError) Error() string {
	return fmt.Sprintf("scoping violation: %s on %s without a project id", e.Operation, e.EntityType)
}

// NotAMemberError is returned when the actor has no active membership in the
// project and is not a global admin.
type NotAMemberError struct {
	ProjectID int64
	UserID    int64
}

func (e *NotAMemberError) Error() string {
	return fmt.Sprintf("user %d is not a member of project %d", e.UserID, e.ProjectID)
}

// ForbiddenError is returned when a member fails a specific policy check.
type ForbiddenError struct {
	ProjectID int64
	UserID    int64
	Action    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %d is not allowed to %s in project %d", e.UserID, e.Action, e.ProjectID)
}

// ModuleNotEnabledError is returned by the module gate. It carries the module
// key so callers can explain which functional area is switched off.
type ModuleNotEnabledError struct {
	Key       string
	ProjectID int64
}

func (e *ModuleNotEnabledError) Error() string {
	return fmt.Sprintf("module %q is not enabled for project %d", e.Key, e.ProjectID)
}

// AlreadyMemberError is returned by assign when an active membership exists.
type AlreadyMemberError struct {
	ProjectID int64
	UserID    int64
}

func (e *AlreadyMemberError) Error() string {
	return fmt.Sprintf("user %d is already a member of project %d", e.UserID, e.ProjectID)
}

// IsScopingViolation checks if an error is a scoping violation
func IsScopingViolation(err error) bool {
	var target *ScopingViolationError
	return errors.As(err, &target)
}

// IsNotAMember checks if an error is a not-a-member error
func IsNotAMember(err error) bool {
	var target *NotAMemberError
	return errors.As(err, &target)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

// IsModuleNotEnabled checks if an error is a module-not-enabled error
func IsModuleNotEnabled(err error) bool {
	var target *ModuleNotEnabledError
	return errors.As(err, &target)
}

// IsAlreadyMember checks if an error is an already-member error
func IsAlreadyMember(err error) bool {
	var target *AlreadyMemberError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrModuleNotFound)
}
