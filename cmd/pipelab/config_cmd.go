package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipelab/internal/config"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigHelp(os.Stderr)
		return exitUsage
	}
	if isHelpToken(args[0]) {
		printConfigHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	case "set":
		return runConfigSet(actionArgs)
	case "path":
		return runConfigPath(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return exitUsage
	}
}

func printConfigHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pipelab config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  show [--json]           Print the effective settings")
	fmt.Fprintln(w, "  get <path> [--json]     Print one value, e.g. execution.policy")
	fmt.Fprintln(w, "  set <path>=<value>      Update the settings file")
	fmt.Fprintln(w, "  path                    Print the settings file in use")
}

func runConfigShow(args []string) int {
	fs, configPath := newFlagSet("config show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}

	if *jsonOut {
		// Round-trip through YAML so keys match the settings file.
		all, err := cfg.GetPath("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailed
		}
		return printJSON(all)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	fmt.Print(string(data))
	return exitOK
}

func runConfigGet(args []string) int {
	fs, configPath := newFlagSet("config get")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	paths, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(paths) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab config get <path> [--json]")
		return exitUsage
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}

	val, err := cfg.GetPath(paths[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	if *jsonOut {
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailed
		}
		fmt.Println(string(data))
		return exitOK
	}
	switch val.(type) {
	case map[string]any, []any:
		data, _ := yaml.Marshal(val)
		fmt.Print(string(data))
	default:
		fmt.Printf("%v\n", val)
	}
	return exitOK
}

func runConfigSet(args []string) int {
	fs, configPath := newFlagSet("config set")
	pairs, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pairs) != 1 || !strings.Contains(pairs[0], "=") {
		fmt.Fprintln(os.Stderr, "Usage: pipelab config set <path>=<value>")
		return exitUsage
	}
	path, value, _ := strings.Cut(pairs[0], "=")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}
	if err := cfg.SetPath(path, value); err != nil {
		fmt.Fprintf(os.Stderr, "Set failed: %v\n", err)
		return exitFailed
	}
	fmt.Printf("Set %s = %s in %s\n", path, value, cfg.Path())
	return exitOK
}

func runConfigPath(args []string) int {
	fs, configPath := newFlagSet("config path")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	path := *configPath
	if path == "" {
		path = config.Discover()
	}
	if path == "" {
		fmt.Println("<defaults>")
		return exitOK
	}
	fmt.Println(path)
	return exitOK
}
