// Package main provides the post-tool-use hook entry point.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tobyh/toolvault/pkg/hooks"
)

// Input is the hook input received after a tool call completes.
type Input struct {
	hooks.BaseInput
	ToolName     string `json:"tool_name"`
	ToolInput    any    `json:"tool_input"`
	ToolResponse any    `json:"tool_response"`
	ToolUseID    string `json:"tool_use_id"`
	StartedAtMS  int64  `json:"started_at_ms"`
}

// skipTools lists tools whose responses are not worth storing. The HTTP
// call is skipped entirely for these to keep heavy tool usage cheap.
var skipTools = map[string]bool{
	"Task":       true,
	"TaskOutput": true,

	"Glob":      true,
	"ListDir":   true,
	"LS":        true,
	"KillShell": true,

	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,

	"Skill":        true,
	"SlashCommand": true,
}

func main() {
	hooks.RunHook("post-tool-use", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) (string, error) {
	if skipTools[input.ToolName] {
		return "", nil
	}

	fmt.Fprintf(os.Stderr, "[post-tool-use] %s\n", input.ToolName)

	var execMS int64
	if input.StartedAtMS > 0 {
		execMS = time.Now().UnixMilli() - input.StartedAtMS
	}

	_, err := hooks.POST(ctx.Port, "/api/ingest", map[string]any{
		"tool_name":          input.ToolName,
		"user_identifier":    os.Getenv("USER"),
		"session_identifier": ctx.SessionID,
		"execution_time_ms":  execMS,
		"response":           input.ToolResponse,
	})
	return "", err
}
