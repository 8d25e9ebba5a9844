/*
Package modules gates optional functional areas per project.

The catalog in the modules table lists what the platform offers. Each
project toggles modules through project_modules rows, which are created on
first enable and never deleted; disabling keeps the stored configuration so
a later enable picks up where it left off.

Every module-gated operation starts with EnsureEnabled, or sits behind
Gate.Require when served over HTTP:

	router.Handle("/pos/sales", gate.Require("pos")(salesHandler))

A module that is deactivated in the catalog reads as disabled for every
project without touching their rows.
*/
package modules
