package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/orchestrator"
	"github.com/michaelbrown/pylab/internal/runner"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run Python snippets through the execution service interactively",
	Long: `Start an interactive console that sends each snippet to the runner at
runner.url, exactly as the practice console in the web API does.

Enter code line by line and finish a snippet with an empty line. Lines ending
in ":" and indented lines continue the current snippet.`,
	RunE: runREPL,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Console output is for the user; keep the logger quiet.
	client := runner.NewClient(cfg.Runner.URL, cfg.Runner.Grace)
	svc := orchestrator.NewService(client, nil, zap.NewNop(), cfg.Orchestrator)

	fmt.Printf("pylab - Python practice console\n")
	fmt.Printf("Runner: %s\n", cfg.Runner.URL)
	if !svc.RunnerHealthy(context.Background()) {
		fmt.Printf("\033[33mWarning: runner is not reachable\033[0m\n")
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	home, _ := os.UserHomeDir()
	os.MkdirAll(filepath.Join(home, ".pylab"), 0o755)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>>>\033[0m ",
		HistoryFile:     filepath.Join(home, ".pylab", "repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C while a snippet is running abandons the wait, not the console.
	var (
		mu        sync.Mutex
		reqCancel context.CancelFunc
	)
	setCancel := func(f context.CancelFunc) {
		mu.Lock()
		reqCancel = f
		mu.Unlock()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			mu.Lock()
			if reqCancel != nil {
				reqCancel()
			}
			mu.Unlock()
		}
	}()

	var buf snippet
	for {
		if buf.Empty() {
			rl.SetPrompt("\033[36m>>>\033[0m ")
		} else {
			rl.SetPrompt("\033[36m...\033[0m ")
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && !buf.Empty() {
				buf.Reset()
				continue
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if buf.Empty() && strings.HasPrefix(strings.TrimSpace(line), "/") {
			if quit := handleCommand(strings.TrimSpace(line)); quit {
				return nil
			}
			continue
		}

		code, ready := buf.Add(line)
		if !ready {
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		setCancel(cancel)
		resp, err := svc.Execute(reqCtx, code)
		interrupted := reqCtx.Err() != nil
		setCancel(nil)
		cancel()

		switch {
		case interrupted:
			fmt.Println("(interrupted)")
		case err != nil:
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		default:
			printResult(resp)
		}
	}
}

func printResult(resp *runner.ExecuteResponse) {
	if resp.Output != "" {
		fmt.Print(resp.Output)
		if !strings.HasSuffix(resp.Output, "\n") {
			fmt.Println()
		}
	}
	if msg := resp.ErrorText(); msg != "" {
		fmt.Printf("\033[31m%s\033[0m\n", strings.TrimRight(msg, "\n"))
	}
	if resp.Truncated {
		fmt.Printf("\033[33m(output truncated)\033[0m\n")
	}
	fmt.Printf("\033[90m[%s in %.3fs]\033[0m\n\n", resp.ProgramOutcome(), resp.ExecutionTime)
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
		fmt.Println("Finish a snippet with an empty line. Ctrl+C discards the current snippet")
		fmt.Println("or stops waiting for a running one.")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}

// snippet accumulates console lines into one program.
type snippet struct {
	lines []string
}

func (s *snippet) Empty() bool { return len(s.lines) == 0 }

func (s *snippet) Reset() { s.lines = nil }

// Add appends a line and returns the complete program once it is ready to
// run: a single simple statement runs at once, a block runs after an empty
// line.
func (s *snippet) Add(line string) (string, bool) {
	if strings.TrimSpace(line) == "" {
		if s.Empty() {
			return "", false
		}
		return s.flush(), true
	}

	s.lines = append(s.lines, line)
	if len(s.lines) == 1 && !opensBlock(line) {
		return s.flush(), true
	}
	return "", false
}

func (s *snippet) flush() string {
	code := strings.Join(s.lines, "\n") + "\n"
	s.Reset()
	return code
}

func opensBlock(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	return strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, "\\") ||
		strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}
