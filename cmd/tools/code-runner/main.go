package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/config"
	"github.com/michaelbrown/pylab/internal/logging"
	"github.com/michaelbrown/pylab/internal/orchestrator"
	"github.com/michaelbrown/pylab/internal/runner"
)

const maxToolOutput = 4000

type tool struct {
	svc *orchestrator.Service
}

func main() {
	cfg, err := config.Load(os.Getenv("PYLAB_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol.
	logCfg := cfg.Log
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client := runner.NewClient(cfg.Runner.URL, cfg.Runner.Grace)
	t := &tool{svc: orchestrator.NewService(client, nil, log, cfg.Orchestrator)}

	s := server.NewMCPServer("pylab-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "python_run",
		Description: "Execute a Python program in the pylab sandbox and return its output. Each call runs in a fresh process with a time limit.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
			},
			Required: []string{"code"},
		},
	}, t.handlePythonRun)

	log.Info("serving python_run over stdio", zap.String("runner_url", cfg.Runner.URL))
	if err := server.ServeStdio(s); err != nil {
		log.Error("server error", zap.Error(err))
	}
}

func (t *tool) handlePythonRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, _ := args["code"].(string)

	resp, err := t.svc.Execute(ctx, code)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: formatResult(resp)}},
		IsError: !resp.Success,
	}, nil
}

func formatResult(resp *runner.ExecuteResponse) string {
	var output strings.Builder
	if resp.Output != "" {
		output.WriteString(resp.Output)
	}
	if msg := resp.ErrorText(); msg != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + msg)
	}
	output.WriteString(fmt.Sprintf("\n[%s in %.3fs]", resp.ProgramOutcome(), resp.ExecutionTime))

	text := output.String()
	if len(text) > maxToolOutput {
		text = text[:maxToolOutput] + "\n... (output truncated)"
	}
	return text
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
