// Command textkit is an external pipelab plugin with string helpers. It
// reads one step request on stdin and writes one response on stdout.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mattjoyce/pipelab/internal/protocol"
)

func main() {
	resp := handle()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle() protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	return dispatch(req)
}

func dispatch(req protocol.Request) protocol.Response {
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}
	switch req.Node {
	case "transform":
		return handleTransform(req)
	case "split":
		return handleSplit(req)
	case "contains":
		return handleContains(req)
	case "lines":
		return handleLines(req)
	case "slug":
		return handleSlug(req)
	default:
		return errResp(fmt.Sprintf("unknown node: %s", req.Node))
	}
}

func handleTransform(req protocol.Request) protocol.Response {
	text := asString(req.Inputs["text"])
	mode := asString(req.Inputs["mode"])
	if mode == "" {
		mode = asString(req.Config["default_mode"])
	}

	var out string
	switch mode {
	case "", "upper":
		out = cases.Upper(language.Und).String(text)
	case "lower":
		out = cases.Lower(language.Und).String(text)
	case "title":
		out = cases.Title(language.Und).String(text)
	case "trim":
		out = strings.TrimSpace(text)
	case "reverse":
		r := []rune(text)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		out = string(r)
	default:
		return errResp(fmt.Sprintf("unknown mode %q", mode))
	}
	return protocol.Response{
		Status:  "ok",
		Outputs: map[string]any{"text": out},
		Logs:    []protocol.LogEntry{info(fmt.Sprintf("%s: %d chars", mode, len(out)))},
	}
}

func handleSplit(req protocol.Request) protocol.Response {
	text := asString(req.Inputs["text"])
	sep, ok := req.Inputs["separator"].(string)
	if !ok || sep == "" {
		sep = ","
	}
	parts := []any{}
	if text != "" {
		for _, p := range strings.Split(text, sep) {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return protocol.Response{
		Status:  "ok",
		Outputs: map[string]any{"parts": parts, "count": len(parts)},
	}
}

func handleContains(req protocol.Request) protocol.Response {
	text := asString(req.Inputs["text"])
	needle := asString(req.Inputs["needle"])
	if b, _ := req.Inputs["ignoreCase"].(bool); b {
		fold := cases.Fold()
		text, needle = fold.String(text), fold.String(needle)
	}
	return protocol.Response{Status: "ok", Result: strings.Contains(text, needle)}
}

// handleLines steps through the lines of text. The next index is carried
// in meta between iterations.
func handleLines(req protocol.Request) protocol.Response {
	lines := strings.Split(strings.TrimRight(asString(req.Inputs["text"]), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	idx := 0
	if n, ok := req.Meta["next"].(float64); ok {
		idx = int(n)
	}
	if idx >= len(lines) {
		return protocol.Response{Status: "ok", Result: "exit", Meta: req.Meta}
	}
	return protocol.Response{
		Status:  "ok",
		Result:  "step",
		Meta:    map[string]any{"next": idx + 1},
		Outputs: map[string]any{"line": lines[idx], "index": idx},
	}
}

func handleSlug(req protocol.Request) protocol.Response {
	var b strings.Builder
	dash := false
	for _, r := range cases.Lower(language.Und).String(asString(req.Inputs["text"])) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return protocol.Response{Status: "ok", Result: strings.TrimSuffix(b.String(), "-")}
}

func info(msg string) protocol.LogEntry {
	return protocol.LogEntry{Level: "info", Message: msg}
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  message,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
