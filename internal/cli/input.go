// Package cli maps command lines onto trending runs and the read API.
package cli

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitRunFailure        = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Command names
const (
	CommandProcess = "process"
	CommandServe   = "serve"
)

// Invocation is the parsed command line
type Invocation struct {
	Command string
	// Files are the telemetry exports of a process run, cleaned, in argument order
	Files []string
	// Merge processes every file as one day instead of one day per file
	Merge bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// Usage is printed for invalid invocations
const Usage = `usage:
  hktrend process [-merge] FILE...   trend telemetry exports into the configured store
  hktrend serve                      serve stored trends over HTTP`

// ParseInvocation parses the arguments following the program name. Storage
// and routine settings come from the environment, never from flags.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("missing command")
	}

	inv := Invocation{Command: args[0]}
	fs := flag.NewFlagSet("hktrend "+inv.Command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch inv.Command {
	case CommandProcess:
		fs.BoolVar(&inv.Merge, "merge", false, "Process all files as a single day.")
		if err := fs.Parse(args[1:]); err != nil {
			return Invocation{}, invalidInvocationf("%v", err)
		}
		if fs.NArg() == 0 {
			return Invocation{}, invalidInvocationf("process requires at least one file")
		}
		for _, f := range fs.Args() {
			if strings.TrimSpace(f) == "" {
				return Invocation{}, invalidInvocationf("empty file argument")
			}
			inv.Files = append(inv.Files, filepath.Clean(f))
		}
	case CommandServe:
		if err := fs.Parse(args[1:]); err != nil {
			return Invocation{}, invalidInvocationf("%v", err)
		}
		if fs.NArg() != 0 {
			return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
		}
	default:
		return Invocation{}, invalidInvocationf("unknown command %q", inv.Command)
	}
	return inv, nil
}
