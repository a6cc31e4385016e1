// Package dashboard serves filtered views over the CSV datasets behind the
// dashboard pages. Datasets are parsed on first use and dropped from memory when
// the backing file changes on disk.
package dashboard
