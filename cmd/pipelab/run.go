package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/mattjoyce/pipelab/internal/doctor"
	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/events"
	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/inspect"
	"github.com/mattjoyce/pipelab/internal/migration"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/tui"
)

// --- run ---

func runRun(args []string) int {
	fs, configPath := newFlagSet("run")
	output := fs.String("o", "", "Write the run record as JSON to PATH (- for stdout)")
	watch := fs.Bool("watch", false, "Follow the run in a terminal monitor")
	policy := fs.String("policy", "", "Failure policy: fail-fast or best-effort")
	trigger := fs.String("trigger", "", "Start origin as plugin:node (default system:manual)")
	payload := fs.String("payload", "", "JSON object handed to the trigger")
	interactive := fs.Bool("interactive", false, "Answer alerts and prompts on this terminal")
	noHistory := fs.Bool("no-history", false, "Do not record the run in history")
	var vars stringList
	fs.Var(&vars, "var", "Override a variable as id=value, value parsed as JSON when possible (repeatable)")

	targets, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(targets) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab run <file | name | preset:name> [-o PATH] [--watch] [--policy P] [--var id=value]...")
		return exitUsage
	}

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	doc, path, err := a.loadDocument(targets[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitUsage
	}
	req, err := buildRunRequest(*trigger, *payload, vars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid run request: %v\n", err)
		return exitUsage
	}
	req.RunID = uuid.NewString()

	var hub *events.Hub
	opts := executorOptions{policy: *policy, interactive: *interactive}
	if *watch {
		hub = events.NewHub(512)
		opts.observers = append(opts.observers, events.NewRunPublisher(hub))
	}
	ex, err := a.executor(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid execution settings: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *engine.RunRecord
	if *watch {
		rec = runWatched(ctx, ex, doc, req, hub)
	} else {
		rec = ex.Run(ctx, doc, req)
	}

	fp, _ := doc.Fingerprint()
	entry := history.FromRecord(rec, path, fp)
	if !*noHistory {
		a.record(context.WithoutCancel(ctx), entry)
	}

	switch *output {
	case "":
		fmt.Print(inspect.BuildReport(entry, a.workspaceDir(context.WithoutCancel(ctx), rec.ID)))
	case "-":
		if err := json.NewEncoder(os.Stdout).Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write run record: %v\n", err)
			return exitFailed
		}
	default:
		data, err := json.MarshalIndent(rec, "", "  ")
		if err == nil {
			err = os.WriteFile(*output, append(data, '\n'), 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write run record: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(os.Stderr, "Run %s %s, record written to %s\n", rec.ID, rec.Status, *output)
	}
	return rec.Status.ExitCode()
}

// runWatched executes the run in the background while the monitor follows
// it. Leaving the monitor early does not abandon the run.
func runWatched(ctx context.Context, ex *engine.Executor, doc *pipeline.Document, req engine.Request, hub *events.Hub) *engine.RunRecord {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, unsubscribe := hub.Subscribe(req.RunID)
	done := make(chan *engine.RunRecord, 1)
	go func() { done <- ex.Run(runCtx, doc, req) }()

	if _, err := tui.Watch(req.RunID, ch, cancel); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor unavailable: %v\n", err)
	}
	unsubscribe()
	return <-done
}

func buildRunRequest(trigger, payload string, vars []string) (engine.Request, error) {
	var req engine.Request
	if trigger != "" {
		pluginID, nodeID, ok := strings.Cut(trigger, ":")
		if !ok || pluginID == "" || nodeID == "" {
			return req, fmt.Errorf("trigger %q: want plugin:node", trigger)
		}
		req.Trigger = pipeline.Origin{PluginID: pluginID, NodeID: nodeID}
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
			return req, fmt.Errorf("payload: %w", err)
		}
	}
	for _, kv := range vars {
		id, raw, ok := strings.Cut(kv, "=")
		if !ok || id == "" {
			return req, fmt.Errorf("variable %q: want id=value", kv)
		}
		if req.Variables == nil {
			req.Variables = make(map[string]any)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		req.Variables[id] = v
	}
	return req, nil
}

// record saves a finished run. Failing to record never fails the run.
func (a *app) record(ctx context.Context, entry history.Entry) {
	db, err := a.openDB(ctx)
	if err != nil {
		a.logger.Warn("run not recorded", "run_id", entry.ID, "error", err)
		return
	}
	defer db.Close()
	if err := history.NewStore(db).Save(ctx, entry); err != nil {
		a.logger.Warn("run not recorded", "run_id", entry.ID, "error", err)
	}
}

// --- validate ---

func runValidate(args []string) int {
	fs, configPath := newFlagSet("validate")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	files, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab validate <file>... [--json] [--strict]")
		return exitUsage
	}
	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	results := make(map[string]*doctor.Result, len(files))
	code := exitOK
	for _, file := range files {
		var res *doctor.Result
		doc, err := pipeline.LoadFile(file)
		if err != nil {
			res = &doctor.Result{Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}}
		} else {
			res = doctor.CheckDocument(doc, a.registry)
		}
		results[file] = res
		if len(res.Errors) > 0 || (*strict && len(res.Warnings) > 0) {
			code = exitFailed
		}
	}

	if *jsonOut {
		if printJSON(results) != exitOK {
			return exitFailed
		}
		return code
	}
	for _, file := range files {
		printResult(file, results[file])
	}
	return code
}

func printResult(label string, res *doctor.Result) {
	status := "OK"
	if len(res.Errors) > 0 {
		status = "INVALID"
	}
	fmt.Printf("%s: %s (%d errors, %d warnings)\n", label, status, len(res.Errors), len(res.Warnings))
	for _, issue := range res.Errors {
		fmt.Printf("  ERROR   [%s] %s%s\n", issue.Category, fieldPrefix(issue.Field), issue.Message)
	}
	for _, issue := range res.Warnings {
		fmt.Printf("  WARNING [%s] %s%s\n", issue.Category, fieldPrefix(issue.Field), issue.Message)
	}
}

func fieldPrefix(field string) string {
	if field == "" {
		return ""
	}
	return field + ": "
}

// --- migrate ---

func runMigrate(args []string) int {
	fs, _ := newFlagSet("migrate")
	target := fs.String("target", "", "Version to migrate to (default: latest)")
	output := fs.String("o", "", "Write the result to PATH instead of stdout")
	write := fs.Bool("write", false, "Rewrite the input file in place")
	check := fs.Bool("check", false, "Only report whether the document needs migrating (exit 1 if it does)")
	verbose := fs.Bool("v", false, "Log every migration step")
	files, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(files) != 1 || (*write && *output != "") {
		fmt.Fprintln(os.Stderr, "Usage: pipelab migrate <file> [--target VERSION] [-o PATH | --write] [--check] [-v]")
		return exitUsage
	}
	file := files[0]

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return exitUsage
	}
	format := pipeline.FormatFor(file)
	raw, err := pipeline.DecodeRaw(data, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse error: %v\n", err)
		return exitUsage
	}
	chain := pipeline.Migrations()

	if *check {
		from, _ := raw[migration.VersionKey].(string)
		needs, err := chain.NeedsMigration(from)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			return exitUsage
		}
		if needs {
			fmt.Printf("%s: version %s needs migrating to %s\n", file, from, chain.Latest())
			return exitFailed
		}
		fmt.Printf("%s: up to date (%s)\n", file, from)
		return exitOK
	}

	migrated, err := chain.Migrate(raw, migration.Options{Target: *target, Debug: *verbose})
	if err != nil {
		var stepErr *migration.StepError
		switch {
		case errors.As(err, &stepErr):
			fmt.Fprintf(os.Stderr, "Migration step %s -> %s failed: %v\n", stepErr.From, stepErr.To, stepErr.Err)
		default:
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		}
		return exitFailed
	}

	dest := *output
	if *write {
		dest = file
	}
	outFormat := format
	if dest != "" {
		outFormat = pipeline.FormatFor(dest)
	}
	encoded, err := pipeline.EncodeRaw(migrated, outFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
		return exitFailed
	}
	if dest == "" {
		_, _ = os.Stdout.Write(encoded)
		return exitOK
	}
	if err := os.WriteFile(dest, encoded, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		return exitFailed
	}
	fmt.Fprintf(os.Stderr, "Migrated %s to %s -> %s\n", file, migrated[migration.VersionKey], dest)
	return exitOK
}

// --- doctor ---

func runDoctor(args []string) int {
	fs, configPath := newFlagSet("doctor")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailed
	}

	lib := a.library()
	report := map[string]*doctor.Result{
		"config": doctor.CheckConfig(a.cfg, a.registry, lib),
	}
	order := []string{"config"}
	names, err := lib.Names()
	if err != nil {
		report["config"].Merge(&doctor.Result{Errors: []doctor.Issue{{Category: "pipelines", Message: err.Error()}}})
	}
	for _, name := range names {
		key := "pipeline " + name
		order = append(order, key)
		doc, _, err := lib.Load(name)
		if err != nil {
			report[key] = &doctor.Result{Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}}
			continue
		}
		report[key] = doctor.CheckDocument(doc, a.registry)
	}

	code := exitOK
	for _, res := range report {
		if len(res.Errors) > 0 {
			code = exitFailed
		}
	}
	if *jsonOut {
		if printJSON(report) != exitOK {
			return exitFailed
		}
		return code
	}
	source := a.cfg.Path()
	if source == "" {
		source = "<defaults>"
	}
	fmt.Printf("Settings: %s\n", source)
	fmt.Printf("Nodes registered: %d\n\n", len(a.registry.Nodes()))
	for _, key := range order {
		printResult(key, report[key])
	}
	return code
}

// --- nodes / presets ---

func runNodes(args []string) int {
	fs, configPath := newFlagSet("nodes")
	jsonOut := fs.Bool("json", false, "Output node definitions as JSON")
	pluginFilter := fs.String("plugin", "", "Only list nodes of this plugin")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	nodes := a.registry.Nodes()
	if *pluginFilter != "" {
		filtered := nodes[:0]
		for _, n := range nodes {
			if n.PluginID == *pluginFilter {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}
	if *jsonOut {
		return printJSON(nodes)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORIGIN\tKIND\tNAME\tPARAMS")
	for _, n := range nodes {
		params := make([]string, 0, len(n.Node.Params))
		for key := range n.Node.Params {
			params = append(params, key)
		}
		sort.Strings(params)
		fmt.Fprintf(tw, "%s:%s\t%s\t%s\t%s\n", n.PluginID, n.Node.ID, n.Node.Type, n.Node.Name, strings.Join(params, ","))
	}
	_ = tw.Flush()
	return exitOK
}

func runPresets(args []string) int {
	fs, _ := newFlagSet("presets")
	save := fs.String("save", "", "Write preset NAME to PATH (requires one name)")
	names, err := interleaved(fs, args)
	if err != nil {
		return exitUsage
	}
	if *save == "" {
		for _, name := range pipeline.PresetNames() {
			doc, _ := pipeline.Preset(name)
			fmt.Printf("%-8s %s\n", name, doc.Description)
		}
		return exitOK
	}
	if len(names) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pipelab presets [NAME --save PATH]")
		return exitUsage
	}
	doc, err := pipeline.Preset(names[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if err := pipeline.SaveFile(*save, doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	fmt.Printf("Wrote preset %s to %s\n", names[0], *save)
	return exitOK
}
