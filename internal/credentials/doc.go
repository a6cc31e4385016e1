// Package credentials resolves the GitHub token used for cloning and for the
// notebook's report upload. Resolution walks an ordered list of strategies and never
// fails: when nothing yields a token the caller proceeds unauthenticated.
package credentials
