package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/merge"
	"github.com/ralphloop/ralph/internal/retry"
	"github.com/ralphloop/ralph/internal/selector"
	"github.com/ralphloop/ralph/internal/stream"
	"github.com/ralphloop/ralph/internal/tui"
	"github.com/ralphloop/ralph/internal/update"
)

// version is set via ldflags at release time.
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Parallel autonomous agent streams over a shared PRD",
	Long: `Ralph runs multiple autonomous coding agents in parallel, each in its
own git worktree, drawing stories from a shared PRD checklist. Claiming
is serialized through filesystem locks, every story is checkpointed for
rollback, and completed branches land on the base branch by
fast-forward only.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if notice := update.CheckPeriodically(cmd.Context(), version); notice != "" {
			fmt.Fprintln(os.Stderr, notice)
		}
	},
}

// loadManager builds the stream manager for the current directory.
func loadManager() (*stream.Manager, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfgPath := configFlag
	if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(root, cfgPath)
	}
	cfg, err := stream.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return stream.NewManager(root, cfg, nil, nil), nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create branches and worktrees for all configured streams",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.Getwd()
		if err != nil {
			return err
		}

		cfgPath := filepath.Join(root, configFlag)
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			if err := stream.WriteStarterConfig(cfgPath); err != nil {
				return err
			}
			fmt.Printf("Wrote starter %s; edit it and rerun init\n", configFlag)
			return nil
		}

		m, err := loadManager()
		if err != nil {
			return err
		}
		if err := m.Init(cmd.Context()); err != nil {
			return err
		}

		for _, name := range m.Config().Names() {
			fmt.Printf("initialized stream %s\n", name)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <stream>",
	Short: "Run a stream's story loop until its stories are done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		maxStories, _ := cmd.Flags().GetInt("max-stories")
		attempts, _ := cmd.Flags().GetInt("attempts")
		timeout, _ := cmd.Flags().GetDuration("agent-timeout")
		agentCmd, _ := cmd.Flags().GetString("agent")

		ag := &agent.ClaudeAgent{Command: agentCmd}
		if !ag.Available() {
			return fmt.Errorf("agent command %q not found in PATH", agentCmd)
		}

		policy := retry.DefaultPolicy
		if attempts > 0 {
			policy.MaxAttempts = attempts
		}

		name := args[0]
		res, err := m.Start(cmd.Context(), name, stream.StartOpts{
			Agent:        ag,
			Events:       events.New(jsonOut, name),
			Policy:       policy,
			AgentTimeout: timeout,
			MaxStories:   maxStories,
		})
		if err != nil {
			var esc *stream.EscalationError
			if errors.As(err, &esc) {
				return fmt.Errorf("%s needs a human: %s", esc.StoryID, esc.Reason)
			}
			var drift *stream.DriftError
			if errors.As(err, &drift) {
				return fmt.Errorf("%v\nrun `ralph cleanup %s` or fix the worktree manually", drift, name)
			}
			return err
		}

		if res.AllCompleted {
			fmt.Printf("stream %s: all stories completed (%d this run)\n", name, res.StoriesCompleted)

			if m.Config().Settings.AutoMerge {
				coord := merge.NewCoordinator(m, nil)
				mres, err := coord.Merge(cmd.Context(), name, merge.Options{})
				if err != nil {
					return fmt.Errorf("auto-merge: %w", err)
				}
				fmt.Printf("auto-merged %s into %s at %.8s\n", mres.Branch, mres.Base, mres.Head)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the derived status of every stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			return tui.Run(m.Statuses)
		}

		infos, err := m.Statuses(cmd.Context())
		if err != nil {
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(infos)
		}

		fmt.Printf("%-12s %-16s %-20s %s\n", "STREAM", "STATUS", "BRANCH", "STORIES")
		for _, info := range infos {
			fmt.Printf("%-12s %-16s %-20s %d/%d\n",
				info.Name, info.Status, info.Branch, info.Completed, info.Total)
		}
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <stream>",
	Short: "Land a completed stream on the base branch (fast-forward only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}
		remote, _ := cmd.Flags().GetString("remote")

		coord := merge.NewCoordinator(m, nil)
		res, err := coord.Merge(cmd.Context(), args[0], merge.Options{Remote: remote})
		if err != nil {
			var conflict *merge.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintln(os.Stderr, "Rebase hit conflicts; resolve manually:")
				for _, c := range conflict.Commands() {
					fmt.Fprintf(os.Stderr, "  %s\n", c)
				}
			}
			return err
		}

		fmt.Printf("merged %s into %s at %.8s\n", res.Branch, res.Base, res.Head)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [stream]",
	Short: "Remove stream worktrees and branches",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return m.Cleanup(cmd.Context(), args[0])
		}
		return m.CleanupAll(cmd.Context())
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [stream]",
	Short: "Show the story the next run would claim (dry run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}

		var only []string
		if len(args) == 1 {
			sc, err := m.Config().Stream(args[0])
			if err != nil {
				return err
			}
			only = sc.Stories
		}

		sel, err := selector.Select(m.PRDPath(), only)
		if err != nil {
			return err
		}
		if sel.AllCompleted {
			fmt.Printf("all stories completed (%d total)\n", sel.Total)
			return nil
		}
		fmt.Printf("next: %s: %s (%d of %d remaining)\n",
			sel.Story.ID, sel.Story.Title, sel.Remaining, sel.Total)
		return nil
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade ralph to the latest release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("current version: %s\n", version)
		if err := update.Update(cmd.Context(), version); err != nil {
			return err
		}
		fmt.Println("upgraded; restart ralph to use the new version")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", stream.DefaultConfigName, "Config file path")

	startCmd.Flags().Bool("json", false, "Emit events as JSON Lines")
	startCmd.Flags().Int("max-stories", 0, "Stop after completing this many stories (0 = no limit)")
	startCmd.Flags().Int("attempts", 0, "Max attempts per story (0 = default)")
	startCmd.Flags().Duration("agent-timeout", 30*time.Minute, "Timeout per agent attempt")
	startCmd.Flags().String("agent", "claude", "Agent command to run")

	statusCmd.Flags().Bool("watch", false, "Live view, refreshed periodically")
	statusCmd.Flags().Bool("json", false, "Emit statuses as JSON")

	mergeCmd.Flags().String("remote", "", "Fetch this remote before merging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(upgradeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
