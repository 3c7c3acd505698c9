// Package cli provides the interactive gophnotes shell.
//
// The shell stands in for the application UI: every command goes through
// the mutation engine or a read projection, so it exercises the same
// local-first path a real frontend would. A background watcher pings the
// remote store and shows whether the client is online.
//
// Commands:
//
//	login [token]        store a session token (prompted when omitted)
//	token <user> [ttl]   mint a token signed with the local secret
//	logout | whoami
//	tables
//	add <table> k=v...   set <table> <id> k=v...
//	rm <table> <id>      restore <table> <id>
//	show <table> <id>
//	list <table> [status]
//	trash <table>
//	outbox [n]
//	hydrate [table]
//	purge <table> <age>
//
// The REPL is started with App.Run, which blocks until the user exits.
package cli
