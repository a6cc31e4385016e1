// Package pipeline runs one notebook request end to end: clone the source
// repository into a scoped working directory, rewrite the notebook for the target
// environment, execute it with injected parameters and render the result.
//
// Every stage transition is recorded in the run store. The working directory is
// released on every exit path.
package pipeline
