package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DoqueDB/sydney/internal/checkpoint"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/schema"
	"github.com/DoqueDB/sydney/internal/trans"
)

var flagRoot string

// manager builds the schema manager rooted at --root.
func manager() (*schema.Manager, error) {
	destroyer, err := checkpoint.NewFileDestroyer(filepath.Join(flagRoot, "checkpoint"), observe.Log())
	if err != nil {
		return nil, err
	}
	defaults := schema.PathSet{
		Data:   filepath.Join(flagRoot, "data"),
		Log:    filepath.Join(flagRoot, "log"),
		System: filepath.Join(flagRoot, "system"),
	}
	return schema.NewManager(defaults, destroyer, observe.Log()), nil
}

func newDatabaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Database lifecycle operations",
	}
	cmd.PersistentFlags().StringVar(&flagRoot, "root", "./sydney-root", "installation root directory")

	var pathData, pathLog, pathSystem string
	var readOnly, offline bool
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			tx := trans.New()
			db, err := m.Create(tx, args[0], schema.PathSet{
				Data: pathData, Log: pathLog, System: pathSystem,
			}, schema.Attributes{ReadOnly: readOnly, Online: !offline}, false)
			if err != nil {
				return err
			}
			db.Persist()
			fmt.Printf("created database %s (data=%s)\n", db.Name, db.Paths.Data)
			return nil
		},
	}
	create.Flags().StringVar(&pathData, "path", "", "data path")
	create.Flags().StringVar(&pathLog, "log", "", "logical log path")
	create.Flags().StringVar(&pathSystem, "system", "", "system path")
	create.Flags().BoolVar(&readOnly, "read-only", false, "create read only")
	create.Flags().BoolVar(&offline, "offline", false, "create offline")

	mount := &cobra.Command{
		Use:   "mount NAME",
		Short: "Mount an existing database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			db, err := m.Mount(trans.New(), args[0], schema.PathSet{
				Data: pathData, Log: pathLog, System: pathSystem,
			})
			if err != nil {
				return err
			}
			fmt.Printf("mounted database %s\n", db.Name)
			return nil
		},
	}
	mount.Flags().StringVar(&pathData, "path", "", "data path")
	mount.Flags().StringVar(&pathLog, "log", "", "logical log path")
	mount.Flags().StringVar(&pathSystem, "system", "", "system path")

	unmount := &cobra.Command{
		Use:   "unmount NAME",
		Short: "Unmount a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			tx := trans.New()
			db, err := m.Mount(tx, args[0], schema.PathSet{})
			if err != nil {
				return err
			}
			return db.Unmount(tx)
		},
	}

	move := &cobra.Command{
		Use:   "move NAME",
		Short: "Change a database's paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			tx := trans.New()
			db, err := m.Mount(tx, args[0], schema.PathSet{})
			if err != nil {
				return err
			}
			return db.Move(tx, schema.PathSet{Data: pathData, Log: pathLog, System: pathSystem})
		},
	}
	move.Flags().StringVar(&pathData, "path", "", "new data path")
	move.Flags().StringVar(&pathLog, "log", "", "new logical log path")
	move.Flags().StringVar(&pathSystem, "system", "", "new system path")

	var discardLog bool
	drop := &cobra.Command{
		Use:   "drop NAME",
		Short: "Drop a database (destruction deferred to checkpoint)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			tx := trans.New()
			db, err := m.Mount(tx, args[0], schema.PathSet{})
			if err != nil {
				return err
			}
			if err := m.Drop(tx, db, discardLog); err != nil {
				return err
			}
			m.Forget(db)
			fmt.Printf("dropped database %s\n", args[0])
			return nil
		},
	}
	drop.Flags().BoolVar(&discardLog, "discard-logicallog", false, "discard the logical log")

	alter := &cobra.Command{
		Use:   "alter NAME ACTION",
		Short: "Alter database attributes (read-only|read-write|online|offline|recovery-full|recovery-checkpoint|super-user|multi-user|start-slave|stop-slave|set-to-master)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseAlterAction(args[1])
			if err != nil {
				return err
			}
			m, err := manager()
			if err != nil {
				return err
			}
			tx := trans.New()
			db, err := m.Mount(tx, args[0], schema.PathSet{})
			if err != nil {
				return err
			}
			return db.Alter(tx, action)
		},
	}

	cmd.AddCommand(create, mount, unmount, move, drop, alter)
	return cmd
}

func parseAlterAction(s string) (schema.AlterAction, error) {
	switch s {
	case "read-only":
		return schema.AlterReadOnly, nil
	case "read-write":
		return schema.AlterReadWrite, nil
	case "online":
		return schema.AlterOnline, nil
	case "offline":
		return schema.AlterOffline, nil
	case "recovery-full":
		return schema.AlterRecoveryFull, nil
	case "recovery-checkpoint":
		return schema.AlterRecoveryCheckpoint, nil
	case "super-user":
		return schema.AlterSuperUser, nil
	case "multi-user":
		return schema.AlterMultiUser, nil
	case "start-slave":
		return schema.AlterStartSlave, nil
	case "stop-slave":
		return schema.AlterStopSlave, nil
	case "set-to-master":
		return schema.AlterSetToMaster, nil
	default:
		return 0, fmt.Errorf("unknown alter action %q", s)
	}
}
