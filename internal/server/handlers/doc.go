// Package handlers contains the HTTP handlers of the nbrunner API.
//
// Handlers are grouped by concern:
//   - configuration (get-config, save-config)
//   - notebook runs and step listing
//   - webhook-triggered updates of the application checkout
//   - status and health introspection, run history
//   - dashboard queries over the CSV datasets
//
// Errors are written through the foundation/errors HTTP adapter so every failure
// has the same {status, message} shape.
package handlers
