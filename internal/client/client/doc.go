// Package client bootstraps the local persistence of the gophnotes client:
// it opens the SQLite file with a single writer connection, applies the
// embedded goose migrations, creates the entity tables of the schema
// registry and bundles the local store, the outbox and the metadata
// repository (see OpenRepositories).
package client
