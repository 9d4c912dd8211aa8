package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		return runRun(args)
	case "validate":
		return runValidate(args)
	case "migrate":
		return runMigrate(args)
	case "doctor":
		return runDoctor(args)
	case "nodes":
		return runNodes(args)
	case "presets":
		return runPresets(args)
	case "history":
		return runHistoryNoun(args)
	case "serve":
		return runServe(args)
	case "watch":
		return runWatch(args)
	case "cache":
		return runCacheNoun(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `pipelab - run visual pipeline documents from the command line

Usage:
  pipelab <command> [flags]

Pipelines:
  run <target>        Execute a pipeline file, a library name or preset:<name>
  validate <file>...  Check documents against the node registry
  migrate <file>      Upgrade a document to the current schema version
  presets             List built-in preset documents
  nodes               List registered nodes

History:
  history list        Show recorded runs
  history show <id>   Show steps, outputs, logs and artifacts of a run
  history rm <id>     Delete a recorded run
  history clear       Delete every recorded run

Service:
  serve               Run the API, webhook listener and run queue
  watch               Live dashboard for a running server

Maintenance:
  doctor              Check settings, plugins and the pipeline library
  cache usage         Show run workspace disk usage
  cache clean         Remove old run workspaces
  config show|get|set Read and edit settings

General:
  version             Show version information
  help                Show this help message

Global flag for every command: --config PATH (default: $PIPELAB_CONFIG,
./pipelab.yaml, then ~/.config/pipelab/config.yaml).

Exit codes: 0 completed, 1 failed, 130 cancelled, 2 usage or load error.
`)
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}
	fmt.Printf("pipelab %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- helpers ---

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// newFlagSet returns a flag set with the shared --config flag. Parse errors
// are reported by the flag package itself.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to settings file")
	return fs, configPath
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return exitFailed
	}
	fmt.Println(string(data))
	return exitOK
}

// stringList is a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// interleaved parses flags that may appear after positional arguments, as
// in "pipelab run file.json --watch".
func interleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
