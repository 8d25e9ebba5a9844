// Package projects implements tenants ("projects") and the membership
// registry that binds users to them.
//
// CreateProject inserts the project and the owner membership of the acting
// user in one transaction. Memberships move through three states:
//
//	none ──Assign──▶ active ──Remove──▶ removed ──Assign──▶ active
//	none ──Invite──▶ invited ──AcceptInvitation──▶ active
//	                 invited ──ExpireInvitations──▶ removed
//
// Removal keeps the row, so at most one membership exists per (project,
// user) pair and HasAccess is a single indexed lookup. The owning user's
// membership cannot be changed or removed.
//
// Every successful change is handed to an audit Recorder after its
// transaction commits. PostgresService also implements rbac.Directory and
// tenancy.MembershipChecker.
package projects
