// Package migrations embeds the schema of the remote Postgres store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
