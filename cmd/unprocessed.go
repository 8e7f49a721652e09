package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"comfybatch/internal/config"
	"comfybatch/internal/fsutil"
)

func newUnprocessedCmd(opts *options) *cobra.Command {
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "unprocessed",
		Short: "Collect workflow files that have no execution log yet",
		Long: "Lists the workflow files without a <name>.csv execution log in the log directory " +
			"and copies them into the left directory so an interrupted batch can be resumed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Batch.WorkflowDir == "" {
				return fmt.Errorf("invalid configuration: %w", config.ErrWorkflowDirRequired)
			}

			names, err := fsutil.FindUnprocessed(cfg.Batch.WorkflowDir, cfg.Batch.LogDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(out, "%d unprocessed workflow file(s)\n", len(names))
			if listOnly || len(names) == 0 {
				return nil
			}

			for _, name := range names {
				dst, err := fsutil.CopyPreserve(filepath.Join(cfg.Batch.WorkflowDir, name), cfg.Batch.LeftDir)
				if err != nil {
					return fmt.Errorf("failed to copy %s: %w", name, err)
				}
				logrus.WithFields(logrus.Fields{
					"workflow": name,
					"path":     dst,
				}).Debug("Workflow copied")
			}
			fmt.Fprintf(out, "copied to %s\n", cfg.Batch.LeftDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listOnly, "list-only", false, "only list the files, do not copy them")
	cmd.Flags().String("left-dir", "", "directory receiving the unprocessed workflow files")
	bindFlags(opts.v, cmd, map[string]string{
		"batch.left_dir": "left-dir",
	})
	return cmd
}
