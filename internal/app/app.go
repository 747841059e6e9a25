package app

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage(os.Stderr)
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "commit":
		return runCommit(args[1:])
	case "refresh":
		return runRefresh(args[1:])
	case "stale":
		return runStale(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "phrasesync CLI")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  phrasesync <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  health   Verify database connectivity")
	fmt.Fprintln(w, "  serve    Start the HTTP API and Phrase webhook receiver")
	fmt.Fprintln(w, "  commit   Merge a completed translation into its target documents")
	fmt.Fprintln(w, "  refresh  Pull job state and translated content into a PTD")
	fmt.Fprintln(w, "  stale    Report translation staleness for source documents")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Use \"phrasesync <command> -h\" for command-specific flags.")
}
