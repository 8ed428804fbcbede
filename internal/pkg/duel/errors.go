package duel

import (
	"errors"

	"github.com/vreid/duel/internal/pkg/compute"
	"github.com/vreid/duel/internal/pkg/escrow"
)

var (
	ErrDuelNotOpen             = errors.New("duel is not open for joining")
	ErrCannotDuelYourself      = errors.New("cannot duel yourself")
	ErrBattleNotReady          = errors.New("battle is not ready to start")
	ErrBattleNotCompleted      = errors.New("battle not completed yet")
	ErrWinningsAlreadyClaimed  = errors.New("winnings already claimed")
	ErrBattleComputationFailed = errors.New("battle computation failed")

	ErrNotAParticipant = escrow.ErrNotAParticipant
	ErrNotTheWinner    = escrow.ErrNotTheWinner
	ErrStaleCallback   = compute.ErrUnknownCorrelation

	ErrDuelNotFound        = errors.New("duel not found")
	ErrDuelExists          = errors.New("duel already exists")
	ErrInvalidStake        = errors.New("invalid stake amount")
	ErrMissingPlayer       = errors.New("player is required")
	ErrMissingAsset        = errors.New("asset is required")
	ErrBattleNotInProgress = errors.New("battle is not in progress")
	ErrBattleNotTimedOut   = errors.New("battle has not timed out")
	ErrAbortDisabled       = errors.New("battle abort is disabled")
	ErrUnknownStatus       = errors.New("unknown duel status")

	ErrDuelsBucketNotFound  = errors.New("duels bucket doesn't exist")
	ErrEventsBucketNotFound = errors.New("events bucket doesn't exist")
)
