// Package api wires the HTTP surface of tenantry onto gorilla/mux.
//
// Every route except the health probes is authenticated. Routes under
// /projects/{project_id} then resolve the project and require membership,
// check the policy action of the route and, for module routes, the module
// gate. Handlers pass the project id and actor to the services explicitly.
//
//	server := api.NewServer(api.Dependencies{...})
//	server.ModuleRouter("pos").HandleFunc("/sales", listSales).Methods("GET")
//	http.ListenAndServe(":8080", server)
package api
