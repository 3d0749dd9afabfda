// Command envup resolves declarative environment manifests into ordered
// activation plans and runs them on a local container runtime.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `envup - declarative development environments

Usage:
  envup <command> [flags]

Commands:
  plan     Resolve a manifest and print the activation plan
  up       Resolve a manifest and start its services
  down     Stop and remove a running environment
  status   Show stored environments and their containers
  serve    Run the read-only status API server

Common flags:
  -f <file>         Manifest file (default "envup.yaml")
  -name <name>      Environment name (default: manifest directory name)
  -env-file <file>  External key-value source, repeatable
  -set KEY=VALUE    Override a resolved value, repeatable
  -config <file>    Config file path
  -version          Print version and exit
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return ExitConfigError
	}

	if args[0] == "-version" || args[0] == "--version" || args[0] == "version" {
		fmt.Printf("envup %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	command, rest := args[0], args[1:]

	switch command {
	case "plan":
		return runPlan(rest)
	case "up":
		return runUp(rest)
	case "down":
		return runDown(rest)
	case "status":
		return runStatus(rest)
	case "serve":
		return runServe(rest)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return ExitConfigError
	}
}

// =============================================================================
// Flag Helpers
// =============================================================================

// stringList collects repeatable string flags.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// commandFlags holds the flags shared by the manifest-driven commands.
type commandFlags struct {
	manifestPath string
	name         string
	envFiles     stringList
	overrides    stringList
	configPath   string
	wait         time.Duration
}

func newFlagSet(command string, flags *commandFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&flags.manifestPath, "f", "envup.yaml", "manifest file")
	fs.StringVar(&flags.name, "name", "", "environment name")
	fs.Var(&flags.envFiles, "env-file", "external key-value source, repeatable")
	fs.Var(&flags.overrides, "set", "override a resolved value as KEY=VALUE, repeatable")
	fs.StringVar(&flags.configPath, "config", "", "config file path")
	return fs
}
