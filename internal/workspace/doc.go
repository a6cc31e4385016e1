// Package workspace hands out per-request working directories.
//
// Every pipeline run acquires a fresh scope under the manager's base directory and
// releases it on every exit path. A scope may be marked as kept, which leaves the
// directory on disk for inspection after release.
package workspace
