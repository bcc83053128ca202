package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/ann"
	"github.com/codelens/codelens/internal/cache"
)

func newAnnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ann",
		Short: "Inspect or tune the ANN index",
	}

	cmd.AddCommand(newAnnStatsCmd())
	cmd.AddCommand(newAnnSetEfSearchCmd())
	cmd.AddCommand(newAnnRebuildCmd())

	return cmd
}

func newAnnStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [path]",
		Short: "Print ANN index lifecycle state and config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openAnnTarget(args)
			if err != nil {
				return err
			}
			state, cfg, meta := c.AnnStats()
			fmt.Fprintf(cmd.OutOrStdout(), "state: %s\ncount: %d\ndim: %d\nm: %d\nef_construction: %d\nef_search: %d\nmax_elements: %d\n",
				annStateName(state), meta.Count, cfg.Dim, cfg.M, cfg.EfConstruction, cfg.EfSearch, meta.MaxElements)
			return nil
		},
	}
}

func newAnnSetEfSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-ef-search <value> [path]",
		Short: "Tune query-time search width without rebuilding",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ef int
			if _, err := fmt.Sscanf(args[0], "%d", &ef); err != nil || ef <= 0 {
				return fmt.Errorf("invalid ef_search value: %s", args[0])
			}
			c, err := openAnnTarget(args[1:])
			if err != nil {
				return err
			}
			c.SetAnnEfSearch(ef)
			fmt.Fprintf(cmd.OutOrStdout(), "ef_search set to %d\n", ef)
			return nil
		},
	}
}

func newAnnRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [path]",
		Short: "Force a full ANN index rebuild",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openAnnTarget(args)
			if err != nil {
				return err
			}
			c.InvalidateANN()
			if _, err := c.EnsureANN(context.Background()); err != nil && err != ann.ErrSkipped {
				return fmt.Errorf("rebuild ann index: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ann index rebuilt")
			return nil
		},
	}
}

// openAnnTarget resolves a workspace path (defaulting to ".") and opens
// its cache for the ann subcommands.
func openAnnTarget(args []string) (*cache.Cache, error) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	root, err := resolveRoot(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	c, _, err := openCache(root, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func annStateName(state ann.State) string {
	switch state {
	case ann.StateAbsent:
		return "absent"
	case ann.StateLoading:
		return "loading"
	case ann.StateReadyClean:
		return "ready_clean"
	case ann.StateReadyDirty:
		return "ready_dirty"
	case ann.StateDirtyNeedsRebuild:
		return "dirty_needs_rebuild"
	default:
		return "unknown"
	}
}
