package schema

import (
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// AlterAction names one ALTER DATABASE attribute change.
type AlterAction int

const (
	AlterReadOnly AlterAction = iota
	AlterReadWrite
	AlterOnline
	AlterOffline
	AlterRecoveryFull
	AlterRecoveryCheckpoint
	AlterSuperUser
	AlterMultiUser
	AlterStartSlave
	AlterStopSlave
	AlterSetToMaster
)

// SetMasterURL records the replication master for a slave database.
func (d *Database) SetMasterURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Attrs.MasterURL = url
}

// Alter applies one attribute change under the alter constraints: a slave
// database only accepts the slave verbs, START/STOP SLAVE require a
// master URL, and SET TO MASTER clears the replication state.
func (d *Database) Alter(tx *trans.Transaction, action AlterAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	isSlaveVerb := action == AlterStartSlave || action == AlterStopSlave || action == AlterSetToMaster
	if d.Attrs.MasterURL != "" && !isSlaveVerb {
		return errs.New(errs.NotSupported, "schema.alter",
			nil)
	}

	switch action {
	case AlterReadOnly:
		d.Attrs.ReadOnly = true
	case AlterReadWrite:
		d.Attrs.ReadOnly = false
	case AlterOnline:
		d.Attrs.Online = true
	case AlterOffline:
		d.Attrs.Online = false
	case AlterRecoveryFull:
		d.Attrs.RecoveryFull = true
	case AlterRecoveryCheckpoint:
		d.Attrs.RecoveryFull = false
	case AlterSuperUser:
		if err := d.mgr.super.enter(d, tx.ID); err != nil {
			return err
		}
		d.Attrs.SuperUserMode = true
	case AlterMultiUser:
		d.mgr.super.exit(d)
		d.Attrs.SuperUserMode = false
	case AlterStartSlave:
		if d.Attrs.MasterURL == "" {
			return errs.New(errs.NotSupported, "schema.alter", nil)
		}
		d.Attrs.SlaveStarted = true
	case AlterStopSlave:
		if d.Attrs.MasterURL == "" {
			return errs.New(errs.NotSupported, "schema.alter", nil)
		}
		d.Attrs.SlaveStarted = false
	case AlterSetToMaster:
		d.Attrs.MasterURL = ""
		d.Attrs.SlaveStarted = false
	default:
		return errs.New(errs.BadArgument, "schema.alter", nil)
	}
	if d.State == types.StatePersistent {
		d.State = types.StateChanged
	}
	return nil
}

// DiscardLog clears the logical log, refused on read-only databases.
func (d *Database) DiscardLog() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Attrs.ReadOnly {
		return errs.New(errs.NotSupported, "schema.discardlog", nil)
	}
	return d.logFile.Destroy()
}
