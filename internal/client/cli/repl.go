package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Token(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	Tables(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Set(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Restore(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Trash(ctx context.Context, args []string) error
	Outbox(ctx context.Context, args []string) error
	Hydrate(ctx context.Context, args []string) error
	Purge(ctx context.Context, args []string) error
}

// runREPL reads commands from scanner until EOF, "exit" or "quit". Command
// errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("gn%s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: tables, add, set, rm, restore, show, (l)ist, trash, outbox, hydrate, purge, whoami, logout, exit")
			} else {
				printlnFn("Available commands: login, token, tables, outbox, exit")
			}
		case "login":
			err = a.Login(ctx, args)
		case "token":
			err = a.Token(ctx, args)
		case "logout":
			err = a.Logout(ctx)
		case "whoami":
			err = a.Whoami(ctx)
		case "tables":
			err = a.Tables(ctx)
		case "add":
			err = a.Add(ctx, args)
		case "set":
			err = a.Set(ctx, args)
		case "rm":
			err = a.Remove(ctx, args)
		case "restore":
			err = a.Restore(ctx, args)
		case "show":
			err = a.Show(ctx, args)
		case "l", "list":
			err = a.List(ctx, args)
		case "trash":
			err = a.Trash(ctx, args)
		case "outbox":
			err = a.Outbox(ctx, args)
		case "hydrate":
			err = a.Hydrate(ctx, args)
		case "purge":
			err = a.Purge(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
