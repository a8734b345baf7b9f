package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pylab/internal/storage"
)

var (
	userFlag     int64
	problemFlag  int64
	limitFlag    int
	offsetFlag   int
	exportFormat string
	exportOutput string
)

var submissionsCmd = &cobra.Command{
	Use:     "submissions",
	Aliases: []string{"submission", "subs"},
	Short:   "Inspect recorded submissions",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's submissions, newest first",
	RunE:  runSubmissionsList,
}

var submissionsShowCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show a submission's code and result",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsShow,
}

var submissionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a user's submission history as markdown, JSON or YAML",
	RunE:  runSubmissionsExport,
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
	submissionsCmd.AddCommand(submissionsListCmd, submissionsShowCmd, submissionsExportCmd)

	submissionsCmd.PersistentFlags().Int64Var(&userFlag, "user", 0, "User ID (required)")
	submissionsCmd.MarkPersistentFlagRequired("user")

	for _, c := range []*cobra.Command{submissionsListCmd, submissionsExportCmd} {
		c.Flags().Int64Var(&problemFlag, "problem", 0, "Only this problem")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max submissions")
		c.Flags().IntVar(&offsetFlag, "offset", 0, "Skip this many submissions")
	}

	submissionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md, json or yaml")
	submissionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func withStore(fn func(ctx context.Context, store storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	return fn(ctx, store)
}

func listOptions() storage.SubmissionListOptions {
	return storage.SubmissionListOptions{
		UserID:    userFlag,
		ProblemID: problemFlag,
		Limit:     limitFlag,
		Offset:    offsetFlag,
	}
}

func runSubmissionsList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store storage.Store) error {
		subs, err := store.ListSubmissions(ctx, listOptions())
		if err != nil {
			return err
		}

		if len(subs) == 0 {
			fmt.Println("No submissions found.")
			return nil
		}

		fmt.Printf("%-8s %-8s %-8s %-9s %-40s %s\n", "ID", "PROBLEM", "STATUS", "TIME", "CODE", "SUBMITTED")
		fmt.Println(strings.Repeat("─", 95))

		for _, s := range subs {
			fmt.Printf("%-8d %-8d %-8s %-9s %-40s %s\n",
				s.ID, s.ProblemID, s.Status, formatSeconds(s.ExecutionTime),
				firstLine(s.Code, 38), timeAgo(s.SubmittedAt))
		}
		return nil
	})
}

func runSubmissionsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid submission id %q", args[0])
	}

	return withStore(func(ctx context.Context, store storage.Store) error {
		s, err := store.GetSubmission(ctx, userFlag, id)
		if err != nil {
			return err
		}

		fmt.Printf("Submission: %d\n", s.ID)
		fmt.Printf("User:       %d\n", s.UserID)
		fmt.Printf("Problem:    %d\n", s.ProblemID)
		fmt.Printf("Status:     %s\n", colorStatus(s.Status))
		fmt.Printf("Time:       %s\n", formatSeconds(s.ExecutionTime))
		fmt.Printf("Submitted:  %s\n", s.SubmittedAt.Format(time.RFC3339))

		fmt.Println(strings.Repeat("─", 60))
		fmt.Println(strings.TrimRight(s.Code, "\n"))

		if s.Output != "" {
			fmt.Println(strings.Repeat("─", 60))
			fmt.Print(s.Output)
			if !strings.HasSuffix(s.Output, "\n") {
				fmt.Println()
			}
		}
		if s.Error != "" {
			fmt.Println(strings.Repeat("─", 60))
			fmt.Printf("\033[31m%s\033[0m\n", strings.TrimRight(s.Error, "\n"))
		}
		return nil
	})
}

func runSubmissionsExport(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store storage.Store) error {
		subs, err := store.ListSubmissions(ctx, listOptions())
		if err != nil {
			return err
		}

		var output []byte
		switch exportFormat {
		case "json":
			output, err = storage.ExportJSON(userFlag, subs)
		case "yaml", "yml":
			output, err = storage.ExportYAML(userFlag, subs)
		case "md", "markdown":
			output = []byte(storage.ExportMarkdown(userFlag, subs))
		default:
			return fmt.Errorf("unknown export format %q", exportFormat)
		}
		if err != nil {
			return err
		}

		if exportOutput != "" {
			return os.WriteFile(exportOutput, output, 0o644)
		}
		_, err = os.Stdout.Write(output)
		return err
	})
}

func colorStatus(s storage.Status) string {
	switch s {
	case storage.StatusSuccess:
		return "\033[32m" + string(s) + "\033[0m"
	case storage.StatusTimeout:
		return "\033[33m" + string(s) + "\033[0m"
	default:
		return "\033[31m" + string(s) + "\033[0m"
	}
}

func formatSeconds(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3fs", *v)
}

// firstLine returns the first non-blank line of s, cut to maxLen runes.
func firstLine(s string, maxLen int) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxLen {
			return string(r[:maxLen]) + ".."
		}
		return line
	}
	return "(empty)"
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
