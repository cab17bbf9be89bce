// Command cycle_computer records BLE sensor sessions and exports them as FIT
// or parquet files.
//
//	cycle_computer record [--simulate] [flags]
//	cycle_computer export [session_key] [flags]
//	cycle_computer sessions [flags]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const serviceName = "cycle-computer"

const usage = `usage: cycle_computer <command> [flags]

commands:
  record     connect the configured sensors, show the dashboard and record a session
  export     export a recorded session (the latest by default) as fit or parquet
  sessions   list recorded sessions
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "cycle_computer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "record":
		return runRecord(args[1:])
	case "export":
		return runExport(args[1:])
	case "sessions":
		return runSessions(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// commonFlags are accepted by every command. Their names are config.FlagKeys
// entries so config.Load binds them.
func commonFlags(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "config file (yaml, toml or json)")
	fs.String("db", "", "badger database directory")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "json or console")
	fs.String("log-file", "", "rotating log file; stderr when empty")
	return fs, configFile
}
