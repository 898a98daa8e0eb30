// Command glagol-log views and analyzes protocol capture files.
//
// Capture files are written by glagol-bridge and glagol-sim with the -capture
// flag.
//
// Usage:
//
//	glagol-log <command> [flags] <file.cap>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSONL or CSV
//	filter   Filter capture and write to new file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View only responses from one speaker
//	glagol-log view --device-id d1 --type response bridge.cap
//
//	# View cloud fallback calls
//	glagol-log view --layer cloud bridge.cap
//
//	# Export to CSV
//	glagol-log export --format csv -o bridge.csv bridge.cap
//
//	# Keep one hour of a capture
//	glagol-log filter --time-start 2026-01-28T10:00:00Z --time-end 2026-01-28T11:00:00Z -o hour.cap bridge.cap
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/quasar-go/glagol-go/cmd/glagol-log/commands"
)

const usage = `glagol-log - Glagol Protocol Capture Analyzer

Usage:
  glagol-log <command> [flags] <file.cap>

Commands:
  view     View capture in human-readable format
  export   Export capture to JSONL or CSV
  filter   Filter capture and write to new file
  stats    Show statistics about the capture

Use "glagol-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags registers the filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.DeviceID, "device-id", "", "Filter by device ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, service, cloud)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	fs.StringVar(&opts.MessageType, "type", "", "Filter by message type (command, state, response, unknown)")
	return opts
}

func newFlagSet(name, summary, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "glagol-log %s - %s\n\nUsage:\n  glagol-log %s\n\nFlags:\n", name, summary, synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// capturePath returns the single positional argument or exits.
func capturePath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture in human-readable format", "view [flags] <file.cap>")
	opts := filterFlags(fs)
	path := capturePath(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture to JSONL or CSV", "export [flags] <file.cap>")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := capturePath(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture and write to new file", "filter [flags] -o <out.cap> <file.cap>")
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path := capturePath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *output, *opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture", "stats <file.cap>")
	path := capturePath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
