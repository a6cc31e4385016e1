// Package git fetches notebook source repositories and updates the service's own
// working copy. All operations use go-git; no git binary is required.
package git
