package platform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestMuxRoutesChannels(t *testing.T) {
	m := NewMux()
	m.Handle("echo", func(_ context.Context, payload map[string]any) (any, error) {
		return payload["v"], nil
	})
	m.Handle("fail", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("nope")
	})

	resp := m.Execute(context.Background(), "echo", map[string]any{"v": 42})
	require.NoError(t, resp.Err())
	assert.Equal(t, ResponseSuccess, resp.Type)
	assert.Equal(t, 42, resp.Result)

	resp = m.Execute(context.Background(), "fail", nil)
	assert.Equal(t, ResponseError, resp.Type)
	assert.EqualError(t, resp.Err(), "platform: nope")

	resp = m.Execute(context.Background(), "missing", nil)
	assert.Contains(t, resp.Error, `no handler for channel "missing"`)

	assert.Equal(t, []string{"echo", "fail"}, m.Channels())
}

func TestMuxCancelledContext(t *testing.T) {
	m := NewHeadless()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := m.Execute(ctx, ChannelAlert, map[string]any{"message": "hi"})
	assert.Equal(t, ResponseError, resp.Type)
}

func TestHeadlessPromptUsesDefault(t *testing.T) {
	resp := NewHeadless().Execute(context.Background(), ChannelPrompt, map[string]any{"message": "name?", "default": "bob"})
	require.NoError(t, resp.Err())
	assert.Equal(t, "bob", resp.Result)
}

func TestConsolePrompt(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("alice\n\n"), &out)

	resp := c.Execute(context.Background(), ChannelPrompt, map[string]any{"message": "name?"})
	require.NoError(t, resp.Err())
	assert.Equal(t, "alice", resp.Result)

	resp = c.Execute(context.Background(), ChannelPrompt, map[string]any{"message": "again?", "default": "bob"})
	require.NoError(t, resp.Err())
	assert.Equal(t, "bob", resp.Result)

	resp = c.Execute(context.Background(), ChannelAlert, map[string]any{"message": "done"})
	require.NoError(t, resp.Err())
	assert.Contains(t, out.String(), "[prompt] name?: ")
	assert.Contains(t, out.String(), "[alert] done")
}
