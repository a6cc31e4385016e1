// Package notebook reads and writes nbformat v4 documents, rewrites them for the
// local or cloud execution environment, and renders executed notebooks to HTML.
//
// The transform prepends a parameters cell (the papermill injection point) and an
// environment setup cell, drops cells that fetch credentials on their own, and
// retargets the report upload path to the run's report folder. Cells are matched
// by tag first and by stable source markers otherwise.
package notebook
