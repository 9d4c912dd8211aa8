package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

func runCacheNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stdout
		if len(args) < 1 {
			w = os.Stderr
		}
		fmt.Fprintln(w, "Usage: pipelab cache <usage | clean [--older-than DURATION]> [--config PATH]")
		if len(args) < 1 {
			return exitUsage
		}
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "usage":
		return runCacheUsage(actionArgs)
	case "clean":
		return runCacheClean(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache action: %s\n", action)
		return exitUsage
	}
}

func runCacheUsage(args []string) int {
	fs, configPath := newFlagSet("cache usage")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	usage, err := a.workspaces.Usage(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	if *jsonOut {
		return printJSON(map[string]any{
			"cache_folder": a.cfg.CacheFolder,
			"runs":         usage.Runs,
			"bytes":        usage.Bytes,
		})
	}
	fmt.Printf("Cache folder: %s\n", a.cfg.CacheFolder)
	fmt.Printf("Run workspaces: %d\n", usage.Runs)
	fmt.Printf("Size: %s\n", formatBytes(usage.Bytes))
	return exitOK
}

func runCacheClean(args []string) int {
	fs, configPath := newFlagSet("cache clean")
	olderThan := fs.Duration("older-than", 0, "Only remove workspaces older than this (0 removes all)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *olderThan < 0 {
		fmt.Fprintln(os.Stderr, "--older-than must not be negative")
		return exitUsage
	}
	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	report, err := a.workspaces.Cleanup(context.Background(), *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	if *olderThan > 0 {
		fmt.Printf("Removed %d run workspaces older than %s\n", report.DeletedDirs, olderThan.Round(time.Second))
	} else {
		fmt.Printf("Removed %d run workspaces\n", report.DeletedDirs)
	}
	return exitOK
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
