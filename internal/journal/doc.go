// Package journal records every finished publish attempt in SQLite so an
// operator can answer "was this sample ever delivered, and how?".
//
// The journal is optional and write-only on the hot path. Failures to
// record are logged by the caller and never affect delivery.
package journal
