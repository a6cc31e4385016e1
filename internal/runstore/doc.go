// Package runstore records pipeline runs in SQLite: one row per run with its final
// outcome and rendered report, plus an append-only log of stage transitions.
package runstore
