package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/porkytheblack/glove-sub003/internal/config"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Long:  `List the sessions persisted in the sessions directory with their size and age.`,
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	entries, err := os.ReadDir(cfg.Sessions.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "No sessions yet")
			return nil
		}
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		key := strings.TrimSuffix(name, ".jsonl")
		age := time.Since(info.ModTime())
		fmt.Fprintf(out, "%-24s %8d bytes  last active %s ago\n", key, info.Size(), formatDuration(age))
		count++
	}

	if count == 0 {
		fmt.Fprintln(out, "No sessions yet")
	} else {
		fmt.Fprintf(out, "\n%d session(s) in %s\n", count, cfg.Sessions.Dir)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
