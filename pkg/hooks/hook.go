package hooks

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// BaseInput is the common envelope every hook receives on stdin.
type BaseInput struct {
	SessionID string `json:"session_id"`
	CWD       string `json:"cwd"`
	HookEvent string `json:"hook_event_name"`
}

// HookContext carries resolved runtime state into a hook handler.
type HookContext struct {
	SessionID string
	CWD       string
	Port      int
}

// RunHook is the shared entry point for hook binaries: read stdin JSON,
// ensure the worker is up, invoke the handler, print its output. Hook
// failures are reported on stderr and swallowed; a hook must never fail
// the tool call it observes.
func RunHook[T any](name string, handler func(ctx *HookContext, input *T) (string, error)) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] read stdin: %v\n", name, err)
		os.Exit(0)
	}

	var input T
	if err := json.Unmarshal(data, &input); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] parse input: %v\n", name, err)
		os.Exit(0)
	}

	var base BaseInput
	_ = json.Unmarshal(data, &base)

	port, err := EnsureWorkerRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] worker unavailable: %v\n", name, err)
		os.Exit(0)
	}

	ctx := &HookContext{
		SessionID: base.SessionID,
		CWD:       base.CWD,
		Port:      port,
	}

	output, err := handler(ctx, &input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", name, err)
		os.Exit(0)
	}
	if output != "" {
		fmt.Println(output)
	}
}
