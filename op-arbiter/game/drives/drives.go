// Package drives tracks the inputs of a dispute instance and their provisioning.
package drives

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

// MaxLog2Size bounds drive size classes so Size never overflows.
const MaxLog2Size = 63

// DriveSet is the ordered drive list of one instance. It is not safe for concurrent use;
// the owning instance serialises access.
type DriveSet struct {
	drives []types.Drive
}

// New validates the drives supplied at instantiation. Literal drives are hashed and count as
// provisioned immediately. Every returned error matches types.ErrInvalidInstantiation.
func New(in []types.Drive) (*DriveSet, error) {
	if len(in) == 0 {
		return nil, types.NewError(types.ErrInvalidInstantiation, "Drives should not be empty")
	}
	drives := make([]types.Drive, len(in))
	for i, d := range in {
		d.Value = common.CopyBytes(d.Value)
		d.Provisioned = false
		if err := validate(i, &d); err != nil {
			return nil, err
		}
		drives[i] = d
	}
	return &DriveSet{drives: drives}, nil
}

func validate(i int, d *types.Drive) error {
	if d.Log2Size > MaxLog2Size {
		return types.NewErrorf(types.ErrInvalidInstantiation, "Drive %d log2Size %d is too large", i, d.Log2Size)
	}
	if !d.NeedsLogger && d.Log2Size > types.DirectDriveMaxLog2Size {
		return types.NewErrorf(types.ErrInvalidInstantiation, "Drive %d is too large to be direct", i)
	}
	if (d.NeedsProvider || d.NeedsLogger) && d.Provider == (common.Address{}) {
		return types.NewErrorf(types.ErrInvalidInstantiation, "Drive %d needs a provider address", i)
	}
	switch {
	case !d.NeedsProvider && !d.NeedsLogger:
		if uint64(len(d.Value)) != d.Size() {
			return types.NewErrorf(types.ErrInvalidInstantiation, "Drive %d value should have %d bytes", i, d.Size())
		}
		d.ContentHash = crypto.Keccak256Hash(d.Value)
		d.Provisioned = true
	case !d.NeedsProvider && d.NeedsLogger:
		if d.ContentHash == (common.Hash{}) {
			return types.NewErrorf(types.ErrInvalidInstantiation, "Drive %d needs a root hash", i)
		}
		d.Value = nil
	default:
		d.ContentHash = common.Hash{}
		d.Value = nil
	}
	return nil
}

// Restore rebuilds a set from previously validated drives, e.g. a journal record.
func Restore(in []types.Drive) *DriveSet {
	s := &DriveSet{drives: make([]types.Drive, len(in))}
	for i, d := range in {
		d.Value = common.CopyBytes(d.Value)
		s.drives[i] = d
	}
	return s
}

func (s *DriveSet) Len() int {
	return len(s.drives)
}

// Get returns a copy of drive i.
func (s *DriveSet) Get(i uint64) (types.Drive, error) {
	if i >= uint64(len(s.drives)) {
		return types.Drive{}, types.NewError(types.ErrUnknownDrive, types.ReasonUnknownDrive)
	}
	d := s.drives[i]
	d.Value = common.CopyBytes(d.Value)
	return d, nil
}

// List returns a deep copy of every drive.
func (s *DriveSet) List() []types.Drive {
	out := make([]types.Drive, len(s.drives))
	for i, d := range s.drives {
		d.Value = common.CopyBytes(d.Value)
		out[i] = d
	}
	return out
}

// Complete reports whether no drive still waits for a provider or the logger.
func (s *DriveSet) Complete() bool {
	_, pending := s.FirstPending()
	return !pending
}

// FirstPending returns the lowest index drive still waiting to be provisioned.
func (s *DriveSet) FirstPending() (uint64, bool) {
	for i, d := range s.drives {
		if !d.Provisioned {
			return uint64(i), true
		}
	}
	return 0, false
}

// ContentHashes lists the drive content hashes in order.
func (s *DriveSet) ContentHashes() []common.Hash {
	out := make([]common.Hash, len(s.drives))
	for i, d := range s.drives {
		out[i] = d.ContentHash
	}
	return out
}

// Authorize checks that drive i exists and that caller is its provider.
func (s *DriveSet) Authorize(i uint64, caller common.Address) error {
	d, err := s.Get(i)
	if err != nil {
		return err
	}
	if d.Provider == (common.Address{}) || d.Provider != caller {
		return types.NewError(types.ErrRoleViolation, types.ReasonCannotBeCalled)
	}
	return nil
}

// Provision records the content of drive i. For a direct drive content is the value itself;
// for a logger drive it is the 32 byte root, which the logger must report as available.
// Nothing is written unless every check passes.
func (s *DriveSet) Provision(ctx context.Context, logger types.LoggerService, loggerAddr common.Address, i uint64, content []byte) error {
	d, err := s.Get(i)
	if err != nil {
		return err
	}
	if d.Provisioned {
		return types.NewError(types.ErrAlreadyProvisioned, types.ReasonAlreadyProvision)
	}
	if !d.NeedsLogger {
		if uint64(len(content)) != d.Size() {
			return types.NewErrorf(types.ErrInvalidDriveContent, "Drive value should have %d bytes", d.Size())
		}
		value := common.CopyBytes(content)
		s.drives[i].Value = value
		s.drives[i].ContentHash = crypto.Keccak256Hash(value)
		s.drives[i].Provisioned = true
		return nil
	}
	if len(content) != common.HashLength {
		return types.NewErrorf(types.ErrInvalidDriveContent, "Logger root should have %d bytes", common.HashLength)
	}
	root := common.BytesToHash(content)
	if d.ContentHash != (common.Hash{}) && d.ContentHash != root {
		return types.NewError(types.ErrInvalidDriveContent, "Root hash does not match drive")
	}
	if err := checkLogged(ctx, logger, loggerAddr, root, d.Log2Size); err != nil {
		return err
	}
	s.drives[i].ContentHash = root
	s.drives[i].Provisioned = true
	return nil
}

func checkLogged(ctx context.Context, logger types.LoggerService, loggerAddr common.Address, root common.Hash, log2Size uint8) error {
	if logger == nil {
		return types.NewError(types.ErrInvalidDriveContent, types.ReasonLogNotAvailable)
	}
	ok, err := logger.IsLogAvailable(ctx, loggerAddr, root, log2Size)
	if err != nil {
		return types.WrapError(types.ErrInvalidDriveContent, types.ReasonLogNotAvailable, err)
	}
	if !ok {
		return types.NewError(types.ErrInvalidDriveContent, types.ReasonLogNotAvailable)
	}
	return nil
}
