// Package storage persists event datasets.
//
// A dataset is stored per Target (city and day) under the name
// events_<city>_<YYYYMMDD>, as a table with the columns listed in Columns.
// Backends are a local CSV directory (the default and the fallback), a Google
// spreadsheet with one tab per target, and a MySQL table. FallbackStore pairs
// a remote backend with the local one; ArchiveStore additionally copies every
// saved dataset to an S3-compatible bucket.
//
// Saves replace a dataset as a whole. The CSV backend writes through a
// temporary file and rename, so readers see either the old or the new file.
package storage
