// Package rbac implements the role hierarchy and the policy evaluator.
//
// Roles are global reference data with an integer level; the well-known
// roles order owner > admin > member. What each level may do is a data
// table, Policy, mapping an Action to a Rule:
//
//	view            any active member
//	update          admin level or above
//	delete          owning user only
//	manage_members  owning user only (admins when configured)
//	manage_modules  owning user only (admins when configured)
//	view_audit      admin level or above
//
// The owning user of a project and global admins pass every rule.
//
// Evaluator answers checks with a bool. A denial is never an error; errors
// are returned only for an unknown project, user, action or a malformed
// permission slug. Fine-grained checks use HasPermission with a slug of
// the form <area>.<verb>.
//
// The policy can be loaded from YAML and reloaded at runtime by
// PolicyWatcher; an invalid file is logged and ignored.
package rbac
