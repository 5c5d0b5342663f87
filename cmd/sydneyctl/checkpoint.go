package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/DoqueDB/sydney/internal/checkpoint"
	"github.com/DoqueDB/sydney/internal/observe"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint operations",
	}
	cmd.PersistentFlags().StringVar(&flagRoot, "root", "./sydney-root", "installation root directory")

	var force bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Execute the deferred file destroyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ckptDir := filepath.Join(flagRoot, "checkpoint")
			if err := os.MkdirAll(ckptDir, 0o755); err != nil {
				return err
			}
			// One checkpoint thread per installation, across processes.
			lock := flock.New(filepath.Join(ckptDir, "checkpoint.lock"))
			held, err := lock.TryLock()
			if err != nil {
				return err
			}
			if !held {
				return fmt.Errorf("another checkpoint is running")
			}
			defer lock.Unlock()

			d, err := checkpoint.NewFileDestroyer(ckptDir, observe.Log())
			if err != nil {
				return err
			}
			before := len(d.Pending())
			if err := d.Execute(force); err != nil {
				return err
			}
			fmt.Printf("checkpoint complete: %d pending before, %d after\n", before, len(d.Pending()))
			return nil
		},
	}
	run.Flags().BoolVar(&force, "force", false, "destroy regardless of checkpoint age")

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List deferred destructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := checkpoint.NewFileDestroyer(filepath.Join(flagRoot, "checkpoint"), observe.Log())
			if err != nil {
				return err
			}
			for _, rec := range d.Pending() {
				fmt.Printf("%-12s db=%d ckpt=%d %s\n", rec.Kind, rec.DatabaseID, rec.Checkpoint, rec.Path)
			}
			return nil
		},
	}

	cmd.AddCommand(run, pending)
	return cmd
}
