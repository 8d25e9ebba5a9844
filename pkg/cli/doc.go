// Package cli implements tenantctl, the operator command line.
//
// Commands talk to the database directly and run as the system actor, so
// they are meant for bootstrapping and break-glass work:
//
//	tenantctl migrate
//	tenantctl seed --policy policy.yaml --catalog modules.yaml
//	tenantctl create-user --name "Ada" --email ada@example.com --admin
//	tenantctl block-user --email ada@example.com
//	tenantctl grant-admin --email ada@example.com --revoke
//	tenantctl create-token --email ada@example.com --name deploy --ttl 720h
//
// create-token prints the plaintext token once.
package cli
