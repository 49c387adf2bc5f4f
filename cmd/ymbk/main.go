// Command ymbk is a thin CLI over a yamabiko collection: get, set, index
// management, and history revert, per spec.md §6.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/yamabiko-db/yamabiko"
	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/objectstore"
)

const (
	exitOK                  = 0
	exitOther               = 1
	exitNotFound            = 2
	exitDeserializationFail = 3
	exitRepositoryError     = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ymbk", flag.ContinueOnError)
	format := fs.String("format", "json", "collection format: json, yaml, or pot")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ymbk --format=json <repo> <get|set|indexes|revert-n-commits|revert-to-commit> ...")
		return exitOther
	}
	repo, cmd, cmdArgs := rest[0], rest[1], rest[2:]

	f, err := codec.ParseFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}

	ctx := context.Background()
	col, err := yamabiko.OpenOrCreate(ctx, repo, f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRepositoryError
	}

	switch cmd {
	case "get":
		return cmdGet(ctx, col, cmdArgs)
	case "set":
		return cmdSet(ctx, col, cmdArgs)
	case "indexes":
		return cmdIndexes(ctx, col, cmdArgs)
	case "revert-n-commits":
		return cmdRevertN(ctx, col, cmdArgs)
	case "revert-to-commit":
		return cmdRevertTo(ctx, col, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return exitOther
	}
}

func cmdGet(ctx context.Context, col *yamabiko.Collection, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ymbk <repo> get <key>")
		return exitOther
	}
	var v any
	found, err := col.Get(ctx, args[0], yamabiko.Main, &v)
	if err != nil {
		if yamabiko.IsDeserializationFailed(err) {
			fmt.Fprintln(os.Stderr, err)
			return exitDeserializationFail
		}
		fmt.Fprintln(os.Stderr, err)
		return exitRepositoryError
	}
	if !found {
		fmt.Fprintf(os.Stderr, "key %q not found\n", args[0])
		return exitNotFound
	}
	out, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}
	fmt.Println(string(out))
	return exitOK
}

func cmdSet(ctx context.Context, col *yamabiko.Collection, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ymbk <repo> set <key> <value-as-json>")
		return exitOther
	}
	var v any
	if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitDeserializationFail
	}
	if _, err := col.Set(ctx, args[0], v, yamabiko.Main); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRepositoryError
	}
	return exitOK
}

func cmdIndexes(ctx context.Context, col *yamabiko.Collection, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ymbk <repo> indexes {add|remove|list} [field] [kind]")
		return exitOther
	}
	switch args[0] {
	case "list":
		for _, e := range col.Indexes() {
			fmt.Printf("%s\t%s\n", e.Field, e.Kind)
		}
		return exitOK
	case "add":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: ymbk <repo> indexes add <field> <seq|num>")
			return exitOther
		}
		kind, err := parseKind(args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitOther
		}
		if err := col.AddIndex(ctx, args[1], kind, yamabiko.Main); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRepositoryError
		}
		return exitOK
	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: ymbk <repo> indexes remove <field>")
			return exitOther
		}
		if err := col.RemoveIndex(ctx, args[1], yamabiko.Main); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRepositoryError
		}
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown indexes subcommand %q\n", args[0])
		return exitOther
	}
}

func parseKind(s string) (index.Kind, error) {
	switch s {
	case "seq":
		return index.Sequential, nil
	case "num":
		return index.Numeric, nil
	default:
		return "", fmt.Errorf("unknown index kind %q (want seq or num)", s)
	}
}

func cmdRevertN(ctx context.Context, col *yamabiko.Collection, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ymbk <repo> revert-n-commits <n>")
		return exitOther
	}
	var n int
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}
	if _, err := col.RevertN(ctx, n); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRepositoryError
	}
	return exitOK
}

func cmdRevertTo(ctx context.Context, col *yamabiko.Collection, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ymbk <repo> revert-to-commit <oid>")
		return exitOther
	}
	oid, err := objectstore.ParseOid(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}
	if _, err := col.RevertTo(ctx, oid); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRepositoryError
	}
	return exitOK
}
