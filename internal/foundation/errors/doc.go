// Package errors provides classified errors for nbrunner.
//
// A ClassifiedError carries a category (which pipeline stage or subsystem
// produced it), a severity and a retry hint, plus a free-form context map.
// Errors are created with the fluent ErrorBuilder:
//
//	err := errors.FetchError("clone failed").
//		WithCause(cause).
//		WithContext("url", url).
//		Build()
//
// Adapters translate classified errors for the two surfaces of the service:
// HTTPErrorAdapter writes the `{status, message}` payload used by the HTTP
// handlers, CLIErrorAdapter maps categories to process exit codes.
package errors
