// Package tenancy holds the primitives that keep project data isolated.
//
// Every row that belongs to a project carries its project id, and every
// entity type that represents such a row implements Scoped. Stores call
// Enforcer.Admit before writing a Scoped entity and Enforcer.Scope before
// running a query against a project-scoped table. A missing project id is
// a ScopingViolationError: in strict mode (development and test) it
// panics, in production it is logged with alert=critical and returned.
//
// Operations never look up the caller from ambient state. The request
// layer resolves an Actor once and passes it explicitly.
//
// The error types in this package are the shared vocabulary of the core
// services: NotAMemberError, ForbiddenError, ModuleNotEnabledError and
// AlreadyMemberError, plus the not-found sentinels.
package tenancy
