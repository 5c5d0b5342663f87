package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DoqueDB/sydney/internal/capsule"
	"github.com/DoqueDB/sydney/internal/config"
	"github.com/DoqueDB/sydney/internal/delayindex"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/lockfile"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

var flagIndexDir string

func openIndex() (*delayindex.File, *trans.Transaction, error) {
	tx := trans.New()
	cfgIdx := delayindex.Config{
		Cap:                   inverted.Capability{WordIndex: true},
		InsertFileThreshold:   config.FullTextInsertMergeFileSize.Get(cfg),
		InsertTupleThreshold:  config.FullTextInsertMergeTupleSize.Get(cfg),
		ExpungeFileThreshold:  config.FullTextExpungeMergeFileSize.Get(cfg),
		ExpungeTupleThreshold: config.FullTextExpungeMergeTupleSize.Get(cfg),
		StoreFeatures:         true,
	}
	idx, err := delayindex.Open(inverted.NewDiskEnv(flagIndexDir), cfgIdx, tx)
	if err != nil {
		return nil, nil, err
	}
	return idx, tx, nil
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Full-text index maintenance",
	}
	cmd.PersistentFlags().StringVar(&flagIndexDir, "dir", "./sydney-index", "index directory")

	insert := &cobra.Command{
		Use:   "insert ROWID [TEXT]",
		Short: "Index a document (reads stdin without TEXT)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rowID uint32
			if _, err := fmt.Sscanf(args[0], "%d", &rowID); err != nil {
				return fmt.Errorf("bad rowid %q: %w", args[0], err)
			}
			text := ""
			if len(args) == 2 {
				text = args[1]
			} else {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					text += sc.Text() + "\n"
				}
			}
			idx, _, err := openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()
			if err := idx.Insert(types.RowID(rowID), text, nil, nil, nil); err != nil {
				return err
			}
			if idx.NeedInsertMerge() {
				fmt.Println("insert threshold reached; run `sydneyctl index merge`")
			}
			return idx.Flush()
		},
	}

	var limit int
	var sortBy string
	search := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the index (terms, AND/OR/NOT, quoted phrases)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, _, err := openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()
			c, err := capsule.NewParsed(idx, args[0])
			if err != nil {
				return err
			}
			order := types.SortScoreDesc
			if sortBy == "rowid" {
				order = types.SortRowIDAsc
			}
			nTerm, rows, _, err := c.Execute(limit, order)
			if err != nil {
				return err
			}
			fmt.Printf("%d terms, %d rows\n", nTerm, len(rows))
			for _, r := range rows {
				fmt.Printf("%10d  %.6f\n", r.RowID, r.Score)
			}
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 20, "result limit")
	search.Flags().StringVar(&sortBy, "sort", "score", "order: score or rowid")

	merge := &cobra.Command{
		Use:   "merge",
		Short: "Run a synchronous merge of the small sides into the big index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(flagIndexDir, 0o755); err != nil {
				return err
			}
			latch, err := lockfile.AcquireMergeLatch(flagIndexDir)
			if err != nil {
				return err
			}
			defer latch.Release()
			idx, tx, err := openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()
			if idx.Info().Proceeding() != types.ProceedingIdle {
				fmt.Println("resuming interrupted merge")
				return idx.ResumeMerge(tx)
			}
			return idx.RunMerge(tx)
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Cross-check row-id consistency over the five sub-units",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, tx, err := openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()
			progress, err := idx.Verify(tx, types.TreatmentContinue)
			if err != nil {
				return err
			}
			if progress.Consistent() {
				fmt.Println("consistent")
				return nil
			}
			for _, f := range progress.Findings {
				fmt.Println("inconsistent:", f)
			}
			return fmt.Errorf("%d findings", len(progress.Findings))
		},
	}

	cmd.AddCommand(insert, search, merge, verify)
	return cmd
}
