package types

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DirectDriveMaxLog2Size is the largest drive whose value is carried inline.
// Larger drives must be furnished through the logger.
const DirectDriveMaxLog2Size = 5

// Drive describes one input of the computation under dispute.
type Drive struct {
	ContentHash   common.Hash    `json:"contentHash"`
	Position      uint64         `json:"position"`
	Log2Size      uint8          `json:"log2Size"`
	Value         hexutil.Bytes  `json:"value"`
	Provider      common.Address `json:"provider"`
	NeedsProvider bool           `json:"needsProvider"`
	NeedsLogger   bool           `json:"needsLogger"`
	Provisioned   bool           `json:"provisioned"`
}

// Size returns the drive size in bytes.
func (d Drive) Size() uint64 {
	return uint64(1) << d.Log2Size
}

// IsDirect reports whether the drive value travels inline rather than through the logger.
func (d Drive) IsDirect() bool {
	return !d.NeedsLogger
}

// InstantiateParams holds everything needed to open a dispute instance.
type InstantiateParams struct {
	FinalTime        uint64         `json:"finalTime"`
	TemplateHash     common.Hash    `json:"templateHash"`
	OutputPosition   uint64         `json:"outputPosition"`
	RoundDuration    time.Duration  `json:"roundDuration"`
	Claimer          common.Address `json:"claimer"`
	Challenger       common.Address `json:"challenger"`
	Logger           common.Address `json:"logger"`
	VerificationGame common.Address `json:"verificationGame"`
	Machine          common.Address `json:"machine"`
	Drives           []Drive        `json:"drives"`
}

// Claim is the claimer's assertion about the computation result.
type Claim struct {
	FinalHash common.Hash   `json:"finalHash"`
	Output    hexutil.Bytes `json:"output"`
}

// EscalationRef identifies the verification game adjudicating an instance.
type EscalationRef struct {
	Game     common.Address `json:"game"`
	Handle   uint64         `json:"handle"`
	Duration time.Duration  `json:"duration"`
}

// Snapshot is the full public state of an instance. Seq counts its transitions so observers
// can order snapshots delivered out of band.
type Snapshot struct {
	Index            uint64         `json:"index"`
	Seq              uint64         `json:"seq"`
	FinalTime        uint64         `json:"finalTime"`
	OutputPosition   uint64         `json:"outputPosition"`
	RoundDuration    time.Duration  `json:"roundDuration"`
	LastMove         time.Time      `json:"lastMove"`
	Deadline         time.Time      `json:"deadline"`
	Claimer          common.Address `json:"claimer"`
	Challenger       common.Address `json:"challenger"`
	Logger           common.Address `json:"logger"`
	VerificationGame common.Address `json:"verificationGame"`
	Machine          common.Address `json:"machine"`
	TemplateHash     common.Hash    `json:"templateHash"`
	ClaimedFinalHash common.Hash    `json:"claimedFinalHash"`
	ClaimedOutput    hexutil.Bytes  `json:"claimedOutput"`
	Phase            Phase          `json:"phase"`
	PhaseTag         common.Hash    `json:"phaseTag"`
	ChallengerVoted  bool           `json:"challengerVoted"`
	Escalation       *EscalationRef `json:"escalation,omitempty"`
	Drives           []Drive        `json:"drives"`
}

// Result summarises the outcome of an instance.
type Result struct {
	Ready   bool           `json:"ready"`
	Running bool           `json:"running"`
	Blame   common.Address `json:"blame"`
	Output  hexutil.Bytes  `json:"output"`
}

// EscalationRequest packages a disputed claim for the verification game.
type EscalationRequest struct {
	Index            uint64         `json:"index"`
	Game             common.Address `json:"game"`
	Machine          common.Address `json:"machine"`
	Claimer          common.Address `json:"claimer"`
	Challenger       common.Address `json:"challenger"`
	TemplateHash     common.Hash    `json:"templateHash"`
	OutputPosition   uint64         `json:"outputPosition"`
	FinalTime        uint64         `json:"finalTime"`
	RoundDuration    time.Duration  `json:"roundDuration"`
	ClaimedFinalHash common.Hash    `json:"claimedFinalHash"`
	DriveHashes      []common.Hash  `json:"driveHashes"`
}

// LoggerService reports whether content identified by its root hash has been logged.
type LoggerService interface {
	IsLogAvailable(ctx context.Context, logger common.Address, root common.Hash, log2Size uint8) (bool, error)
}

// VerificationGame adjudicates disputed claims. The verdict arrives later through the escalation bridge.
type VerificationGame interface {
	Instantiate(ctx context.Context, req EscalationRequest) (handle uint64, err error)
	// MaxDuration bounds how long a game started with the given round duration may run.
	MaxDuration(ctx context.Context, game common.Address, roundDuration time.Duration, finalTime uint64) (time.Duration, error)
}

// MachineRequest describes the computation the machine must run.
type MachineRequest struct {
	Machine        common.Address
	TemplateHash   common.Hash
	FinalTime      uint64
	OutputPosition uint64
	Drives         []Drive
}

// MachineResult is the machine's state hash after FinalTime and the bytes read at OutputPosition.
type MachineResult struct {
	FinalHash common.Hash
	Output    []byte
}

// Machine is the deterministic execution oracle.
type Machine interface {
	Run(ctx context.Context, req MachineRequest) (MachineResult, error)
}
