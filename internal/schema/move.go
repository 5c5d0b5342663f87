package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// movePlanStep is one category's relocation in a move plan.
type movePlanStep struct {
	category types.PathCategory
	from     string
	to       string
}

// planMove diffs the current paths against the requested ones; unchanged
// categories produce no step.
func planMove(current, requested PathSet) []movePlanStep {
	var plan []movePlanStep
	for _, cat := range []types.PathCategory{types.PathData, types.PathLogicalLog, types.PathSystem} {
		from, to := current.Get(cat), requested.Get(cat)
		if to != "" && to != from {
			plan = append(plan, movePlanStep{category: cat, from: from, to: to})
		}
	}
	return plan
}

// Move relocates the database's path categories: Data moves every table's
// files, LogicalLog renames the log file, System moves the sequence and
// system-table files. Each completed step is undone in reverse on a later
// failure, then any new-side directories created along the way are
// removed. On success, emptied old-side directories are pruned.
func (d *Database) Move(tx *trans.Transaction, requested PathSet) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	plan := planMove(d.Paths, requested)
	if len(plan) == 0 {
		return nil
	}
	newPaths := d.Paths
	for _, step := range plan {
		switch step.category {
		case types.PathData:
			newPaths.Data = step.to
		case types.PathLogicalLog:
			newPaths.Log = step.to
		case types.PathSystem:
			newPaths.System = step.to
		}
	}
	if err := d.mgr.paths.Reserve(d.Name, true, newPaths.Data, newPaths.Log, newPaths.System); err != nil {
		return err
	}

	var done []movePlanStep
	var madeDirs []string
	defer func() {
		if err == nil {
			return
		}
		for i := len(done) - 1; i >= 0; i-- {
			if undoErr := d.moveStep(done[i].to, done[i].from, done[i].category); undoErr != nil {
				d.mgr.failRecovery(d.ID, d.Name, undoErr)
				return
			}
		}
		for i := len(madeDirs) - 1; i >= 0; i-- {
			os.Remove(madeDirs[i])
		}
	}()

	for _, step := range plan {
		if _, statErr := os.Stat(step.to); os.IsNotExist(statErr) {
			if err = os.MkdirAll(step.to, 0o755); err != nil {
				return fmt.Errorf("schema: move mkdir: %w", err)
			}
			madeDirs = append(madeDirs, step.to)
		}
		if err = d.moveStep(step.from, step.to, step.category); err != nil {
			return err
		}
		done = append(done, step)
	}

	d.Paths = newPaths
	for _, step := range plan {
		d.mgr.paths.Rename(d.Name, step.from, step.to)
		// Prune the old side when nothing is left in it.
		if entries, readErr := os.ReadDir(step.from); readErr == nil && len(entries) == 0 {
			os.Remove(step.from)
		}
	}
	if d.State == types.StatePersistent {
		d.State = types.StateChanged
	}
	return nil
}

// moveStep relocates one category's files from one root to the other.
func (d *Database) moveStep(from, to string, cat types.PathCategory) error {
	switch cat {
	case types.PathLogicalLog:
		return d.logFile.Rename(filepath.Join(to, "sydney.log"))
	default:
		// Data and System roots move wholesale: every contained file
		// belongs to this database by path reservation.
		entries, err := os.ReadDir(from)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := os.Rename(
				from+string(os.PathSeparator)+e.Name(),
				to+string(os.PathSeparator)+e.Name(),
			); err != nil {
				return fmt.Errorf("schema: move %s: %w", e.Name(), err)
			}
		}
		return nil
	}
}
