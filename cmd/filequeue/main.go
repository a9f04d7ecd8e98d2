// Command filequeue inspects and manages filequeue queue directories.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vnykmshr/filequeue/pkg/filequeue"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	usage string
	run   func(env *cmdEnv, args []string) error
}

var commands = map[string]command{
	"stats":   {"stats <queue-dir>", runStats},
	"inspect": {"inspect <queue-dir>", runInspect},
	"verify":  {"verify <queue-dir>", runVerify},
	"peek":    {"peek <queue-dir> [count]", runPeek},
	"enqueue": {"enqueue <queue-dir> [payload...]", runEnqueue},
	"reclaim": {"reclaim <queue-dir>", runReclaim},
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	name := args[0]
	switch name {
	case "version":
		fmt.Fprintf(stdout, "filequeue version %s\n", filequeue.Version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", name)
		printUsage(stderr)
		return 1
	}

	env := &cmdEnv{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&env.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&env.logDir, "log-dir", "", "write logs to a rotating file in this directory")
	fs.BoolVar(&env.stdin, "stdin", false, "enqueue: read one payload per line from stdin")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: filequeue %s [flags]\n", cmd.usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: queue directory required")
		fs.Usage()
		return 1
	}

	defer env.close()
	if err := cmd.run(env, fs.Args()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "filequeue CLI Tool - Queue Inspection and Management")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  filequeue <command> [flags] <queue-dir> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  stats <queue-dir>                Show queue statistics")
	fmt.Fprintln(w, "  inspect <queue-dir>              Queue statistics and segments as JSON")
	fmt.Fprintln(w, "  verify <queue-dir>               Check segment integrity without opening the queue")
	fmt.Fprintln(w, "  peek <queue-dir> [count]         Show the next records without consuming them")
	fmt.Fprintln(w, "  enqueue <queue-dir> [payload...] Append payloads (or lines from stdin with -stdin)")
	fmt.Fprintln(w, "  reclaim <queue-dir>              Delete or archive consumed segments")
	fmt.Fprintln(w, "  version                          Show version information")
	fmt.Fprintln(w, "  help                             Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <file>    YAML configuration (sync policy, retention, archive, log)")
	fmt.Fprintln(w, "  -log-dir <dir>    Write logs to <dir>/filequeue.log, rotated")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  filequeue stats /path/to/queue")
	fmt.Fprintln(w, "  filequeue peek /path/to/queue 5")
	fmt.Fprintln(w, "  filequeue reclaim -config queue.yaml /path/to/queue")
}
