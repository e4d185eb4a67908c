package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x6d61/labvault/internal/labctx"
	"github.com/0x6d61/labvault/internal/message"
	"github.com/0x6d61/labvault/internal/report"
	"github.com/0x6d61/labvault/internal/session"
)

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)

	newCmd.Flags().String("name", "", "Session name (e.g., 'HTB - Nibbles')")
	newCmd.Flags().String("env", "", "Lab environment (HTB, TryHackMe, ...)")
	newCmd.Flags().String("target", "", "Lab target (host/IP/domain)")
	newCmd.Flags().String("objective", "", "Lab objective")
	newCmd.Flags().String("user", "", "Owning user id")

	listCmd.Flags().String("user", "", "Filter by user id")
	listCmd.Flags().String("status", "", "Filter by status (active, paused, completed, archived)")
	listCmd.Flags().Int("limit", 50, "Maximum number of sessions")

	searchCmd.Flags().String("user", "", "Filter by user id")
	searchCmd.Flags().Int("limit", 50, "Maximum number of results")

	exportCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	exportCmd.Flags().StringP("output", "o", "", "Output file path")
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		name, _ := cmd.Flags().GetString("name")
		env, _ := cmd.Flags().GetString("env")
		target, _ := cmd.Flags().GetString("target")
		objective, _ := cmd.Flags().GetString("objective")
		user, _ := cmd.Flags().GetString("user")

		id, err := session.NewStore(db).Create(cmd.Context(), session.CreateParams{
			UserID:         user,
			Name:           name,
			LabEnvironment: env,
			LabTarget:      target,
			LabObjective:   objective,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		user, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := session.NewStore(db).List(cmd.Context(), user, status, limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			name := s.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s  %-20s  last active %s\n",
				s.ID, s.Status, name, s.LastActive.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the context summary of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		builder := report.NewBuilder(
			session.NewStore(db), message.NewLog(db), labctx.NewTracker(db))
		summary, err := builder.AgentSummary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search message content across all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		results, err := message.NewLog(db).Search(cmd.Context(), args[0], user, limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
			return nil
		}
		for _, r := range results {
			name := r.SessionName
			if name == "" {
				name = r.SessionID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%s): %s\n",
				r.Timestamp.Format("2006-01-02 15:04"), name, r.Role, r.Content)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show session statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		builder := report.NewBuilder(
			session.NewStore(db), message.NewLog(db), labctx.NewTracker(db))
		stats, err := builder.BuildStatistics(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if stats == nil {
			return fmt.Errorf("session %q not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Messages:   %d\n", stats.TotalMessages)
		for role, n := range stats.MessageCounts {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", role, n)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool calls: %d\n", stats.ToolCallCount)
		fmt.Fprintf(cmd.OutOrStdout(), "Duration:   %.2f day(s)\n", stats.DurationDays)
		fmt.Fprintf(cmd.OutOrStdout(), "Created:    %s\n", stats.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Fprintf(cmd.OutOrStdout(), "Last active: %s\n", stats.LastActive.Format("2006-01-02 15:04"))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a full session report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		format, _ := cmd.Flags().GetString("format")
		outputPath, _ := cmd.Flags().GetString("output")

		builder := report.NewBuilder(
			session.NewStore(db), message.NewLog(db), labctx.NewTracker(db))
		rep, err := builder.Export(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rep == nil {
			return fmt.Errorf("session %q not found", args[0])
		}

		reporter, err := report.New(format)
		if err != nil {
			return fmt.Errorf("unknown report format %q: %w", format, err)
		}

		out := cmd.OutOrStdout()
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create output file %q: %w", outputPath, err)
			}
			defer f.Close()
			out = f
		}

		return reporter.Generate(cmd.Context(), rep, out)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all of its messages and context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := session.NewStore(db).Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}
