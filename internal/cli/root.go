// Package cli implements the labvault command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/0x6d61/labvault/internal/storage"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "labvault",
	Short: "Session and lab-context persistence for pentest-lab agents",
	Long: `labvault - Session and lab-context persistence for pentest-lab agents

Records conversational turns and an evolving structured lab context
(ports, services, vulnerabilities, credentials, flags, notes) per session,
and rebuilds a context summary so a stateless agent can resume with
continuity. Intended for authorized lab environments (HTB, TryHackMe,
CTFs, own machines) only.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("db", "", "Database file path (default $LABVAULT_DB or labvault.db)")
	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-3)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("labvault %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// openDB resolves the database path (flag, then .env / environment, then the
// default) and opens the store.
func openDB(cmd *cobra.Command) (*storage.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		// .env is optional; a missing file is not an error.
		_ = godotenv.Load()
		path = os.Getenv("LABVAULT_DB")
	}
	if path == "" {
		path = "labvault.db"
	}
	newLogger(cmd).Debug("opening database", "path", path)
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}
	return db, nil
}

// newLogger builds a slog logger whose level follows the verbosity flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetInt("verbose")
	level := slog.LevelError
	switch {
	case verbose >= 3:
		level = slog.LevelDebug
	case verbose >= 2:
		level = slog.LevelInfo
	case verbose >= 1:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
