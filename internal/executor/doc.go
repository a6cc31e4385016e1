// Package executor runs transformed notebooks through papermill and reports the
// interpreter facts handed to the notebook as parameters.
package executor
