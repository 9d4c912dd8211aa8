package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/pipelab/internal/log"
)

// HandlerFunc serves one channel.
type HandlerFunc func(ctx context.Context, payload map[string]any) (any, error)

// Mux routes Execute calls to per-channel handlers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux returns an empty Mux. Unrouted channels answer with an error response.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for channel, replacing any previous handler.
func (m *Mux) Handle(channel string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = fn
}

// Channels lists the routed channel names, sorted.
func (m *Mux) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute implements Services.
func (m *Mux) Execute(ctx context.Context, channel string, payload map[string]any) Response {
	m.mu.RLock()
	fn, ok := m.handlers[channel]
	m.mu.RUnlock()
	if !ok {
		log.WithComponent("platform").Warn("no handler for channel", "channel", channel)
		return Failure(fmt.Errorf("no handler for channel %q", channel))
	}
	if err := ctx.Err(); err != nil {
		return Failure(err)
	}
	result, err := fn(ctx, payload)
	if err != nil {
		return Failure(err)
	}
	return Success(result)
}

// NewHeadless returns services for unattended runs: alerts are logged and
// prompts answer with the payload's "default" value.
func NewHeadless() *Mux {
	m := NewMux()
	logger := log.WithComponent("platform")
	m.Handle(ChannelAlert, func(_ context.Context, payload map[string]any) (any, error) {
		logger.Info("alert", "message", payload["message"])
		return "ok", nil
	})
	m.Handle(ChannelPrompt, func(_ context.Context, payload map[string]any) (any, error) {
		def, _ := payload["default"].(string)
		logger.Info("prompt answered with default", "message", payload["message"], "answer", def)
		return def, nil
	})
	return m
}

// NewConsole returns services that talk to a terminal: alerts and prompts are
// written to out and prompts read one line from in.
func NewConsole(in io.Reader, out io.Writer) *Mux {
	m := NewMux()
	lines := make(chan string)
	var once sync.Once
	startReader := func() {
		go func() {
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				lines <- sc.Text()
			}
			close(lines)
		}()
	}

	m.Handle(ChannelAlert, func(_ context.Context, payload map[string]any) (any, error) {
		fmt.Fprintf(out, "[alert] %v\n", payload["message"])
		return "ok", nil
	})
	m.Handle(ChannelPrompt, func(ctx context.Context, payload map[string]any) (any, error) {
		once.Do(startReader)
		def, _ := payload["default"].(string)
		if def != "" {
			fmt.Fprintf(out, "[prompt] %v [%s]: ", payload["message"], def)
		} else {
			fmt.Fprintf(out, "[prompt] %v: ", payload["message"])
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return def, nil
			}
			if line = strings.TrimSpace(line); line == "" {
				return def, nil
			}
			return line, nil
		}
	})
	return m
}
