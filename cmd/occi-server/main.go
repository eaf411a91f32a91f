// Command occi-server runs the parametric CAD model server, and also
// doubles as an admin client for an already-running instance (publish,
// search). Subcommand dispatch and global-flag handling follow the
// teacher's cmd/cie/main.go.
//
// Usage:
//
//	occi-server serve                     Start the HTTP server
//	occi-server publish <script.json>     Publish a script record to a running server
//	occi-server search <query>            Search a running server's catalog
//	occi-server version                   Show version and exit
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/fatih/color"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	ServerURL  string
	JSON       bool
	NoColor    bool
	Verbose    int
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to occi.yaml (default: ./occi.yaml)")
		serverURL   = flag.String("server", getEnv("OCCI_SERVER_URL", "http://localhost:8080"), "Base URL of a running occi-server, for publish/search")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
	)

	flag.SetInterspersed(false)
	flag.Usage = printUsage

	flag.Parse()

	if *showVersion {
		fmt.Printf("occi-server version %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	color.NoColor = *noColor

	globals := GlobalFlags{
		ConfigPath: *configPath,
		ServerURL:  *serverURL,
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]

	var code int
	switch command {
	case "serve":
		code = runServe(cmdArgs, globals)
	case "publish":
		code = runPublish(cmdArgs, globals)
	case "search":
		code = runSearch(cmdArgs, globals)
	case "version":
		code = runVersion()
	default:
		fmt.Fprintf(os.Stderr, "%s\n", color.RedString("Unknown command: %s", command))
		flag.Usage()
		code = 1
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `occi-server - parametric CAD model server

Usage:
  occi-server <command> [options]

Commands:
  serve      Start the HTTP server
  publish    Publish a script record to a running server
  search     Search a running server's catalog
  version    Show version and exit

Global Options:
  -c, --config      Path to occi.yaml
  --server          Base URL of a running occi-server (default http://localhost:8080)
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity
  -V, --version     Show version and exit
`)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
