// Package localstore is the client-resident store of entity records.
//
// Every table of the schema registry maps to one SQLite table holding the
// reserved attributes as columns and the domain fields as a JSON document:
//
//	id TEXT PRIMARY KEY, owner_id TEXT, data TEXT (JSON),
//	created_at INTEGER, updated_at INTEGER, deleted_at INTEGER NULL
//
// Timestamps are stored as Unix nanoseconds in UTC. Secondary attributes of
// the registry get expression indexes over json_extract(data, '$.attr').
//
// Store methods never touch the network. A Store created with New performs
// each multi-statement write in its own transaction; one returned by WithTx
// joins the caller's transaction, and the caller is responsible for calling
// Touch after commit so that read projections observe the change.
package localstore
