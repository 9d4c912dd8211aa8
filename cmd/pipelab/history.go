package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/inspect"
)

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryHelp(os.Stderr)
		return exitUsage
	}
	if isHelpToken(args[0]) {
		printHistoryHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list", "ls":
		return runHistoryList(actionArgs)
	case "show", "inspect":
		return runHistoryShow(actionArgs)
	case "rm", "delete":
		return runHistoryDelete(actionArgs)
	case "clear":
		return runHistoryClear(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return exitUsage
	}
}

func printHistoryHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pipelab history <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list [--pipeline NAME] [--limit N] [--json]")
	fmt.Fprintln(w, "  show <run_id> [--json]")
	fmt.Fprintln(w, "  rm <run_id>")
	fmt.Fprintln(w, "  clear")
}

// openHistory loads settings and opens the history store. The returned
// closer must be called.
func openHistory(ctx context.Context, configPath string) (*app, *history.Store, func(), error) {
	a, err := loadApp(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, history.NewStore(db), func() { _ = db.Close() }, nil
}

func runHistoryList(args []string) int {
	fs, configPath := newFlagSet("history list")
	pipelineName := fs.String("pipeline", "", "Only runs of this pipeline")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx := context.Background()
	_, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	var entries []history.Entry
	if *pipelineName != "" {
		entries, err = store.ListByPipeline(ctx, *pipelineName, *limit)
	} else {
		entries, err = store.List(ctx, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}

	if *jsonOut {
		if entries == nil {
			entries = []history.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded.")
		return exitOK
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tSTEPS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.PipelineName, e.Status,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			time.Duration(e.DurationMs)*time.Millisecond,
			len(e.Steps))
	}
	_ = tw.Flush()
	return exitOK
}

func runHistoryShow(args []string) int {
	fs, configPath := newFlagSet("history show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	ids, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(ids) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab history show <run_id> [--json]")
		return exitUsage
	}

	ctx := context.Background()
	a, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	entry, err := store.Get(ctx, ids[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, history.ErrNotFound) {
			return exitUsage
		}
		return exitFailed
	}

	wsDir := a.workspaceDir(ctx, entry.ID)
	if *jsonOut {
		out, err := inspect.BuildJSONReport(entry, wsDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailed
		}
		fmt.Println(out)
		return exitOK
	}
	fmt.Print(inspect.BuildReport(entry, wsDir))
	return exitOK
}

func runHistoryDelete(args []string) int {
	fs, configPath := newFlagSet("history rm")
	ids, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab history rm <run_id>...")
		return exitUsage
	}

	ctx := context.Background()
	_, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	code := exitOK
	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = exitFailed
			continue
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return code
}

func runHistoryClear(args []string) int {
	fs, configPath := newFlagSet("history clear")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx := context.Background()
	_, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeDB()

	n, err := store.Clear(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	fmt.Printf("Deleted %d runs\n", n)
	return exitOK
}
