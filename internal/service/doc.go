// Package service provides the tool registry behind the admin API.
//
// Providers expose kernel operations as named tools ("ipc.send", "grants.create", ...).
// The registry lists them, ranks them against a free-text query and dispatches calls by
// the service prefix of the tool ID.
//
// Example Usage:
//
//	registry := service.NewRegistry()
//	registry.Register(ipcProvider)
//	result, err := registry.Execute(ctx, "ipc.notify", params, &service.Caller{Endpoint: ep})
package service
