// Command cozmonaut runs robot sessions and manages the friends database.
//
//	cozmonaut [flags] interact
//	cozmonaut [flags] friend-list
//	cozmonaut --friend-id 3 friend-remove
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cozmonaut/cozmonaut/internal/entrypoint"
	"github.com/cozmonaut/cozmonaut/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml configuration file")
	sqlAddr     = flag.String("sql-addr", "", "Directory holding the database")
	sqlUser     = flag.String("sql-user", "", "Database user (unused by SQLite)")
	sqlPass     = flag.String("sql-pass", "", "Database password (unused by SQLite)")
	sqlData     = flag.String("sql-data", "", "Database name")
	friendID    = flag.String("friend-id", "", "Friend ID for friend-list, friend-remove and simulated recognition")
	friendName  = flag.String("name", "", "Friend name for friend-add")
	listen      = flag.String("listen", "", "HTTP listen address (default localhost:8080)")
	simulate    = flag.Bool("simulate", false, "Use simulated robots instead of serial ports")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// flagArgs maps the flags set on the command line to entrypoint keys.
// Unset flags are omitted so the config file and environment apply.
func flagArgs(fs *flag.FlagSet) entrypoint.Args {
	keys := map[string]string{
		"config":    "config",
		"sql-addr":  "sql_addr",
		"sql-user":  "sql_user",
		"sql-pass":  "sql_pass",
		"sql-data":  "sql_data",
		"friend-id": "friend_id",
		"name":      "name",
		"listen":    "listen",
		"simulate":  "simulate",
	}
	args := entrypoint.Args{}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := keys[f.Name]; ok {
			args[key] = f.Value.String()
		}
	})
	return args
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: cozmonaut [flags] <%s>\n", strings.Join(entrypoint.Operations(), "|"))
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() != 1 {
		usage()
		os.Exit(entrypoint.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := entrypoint.Run(ctx, flag.Arg(0), flagArgs(flag.CommandLine))
	stop()
	os.Exit(code)
}
