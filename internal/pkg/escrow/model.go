package escrow

import (
	"errors"
	"fmt"
)

const MaxFeeBps = 10000

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrVaultNotFound     = errors.New("vault not found")
	ErrVaultUnderfunded  = errors.New("vault balance below release amount")
	ErrAssetMismatch     = errors.New("vault holds a different asset")
	ErrNotAParticipant   = errors.New("caller is not a participant in this duel")
	ErrNotTheWinner      = errors.New("caller is not the winner of this duel")
	ErrInvalidConfig     = errors.New("invalid reward configuration")

	ErrBalancesBucketNotFound = errors.New("balances bucket doesn't exist")
	ErrVaultsBucketNotFound   = errors.New("vaults bucket doesn't exist")
)

type Vault struct {
	DuelID    uint64 `json:"duel_id"`
	Asset     string `json:"asset"`
	Balance   uint64 `json:"balance"`
	Deposited uint64 `json:"deposited"`
	Released  uint64 `json:"released"`
}

// RewardConfig is fixed for the lifetime of a Distributor.
type RewardConfig struct {
	FeeBps             uint64 `json:"fee_bps"`
	Treasury           string `json:"treasury"`
	StrictWinnerClaims bool   `json:"strict_winner_claims"`
}

func (c RewardConfig) Validate() error {
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: fee of %d bps exceeds %d", ErrInvalidConfig, c.FeeBps, MaxFeeBps)
	}

	if c.FeeBps > 0 && c.Treasury == "" {
		return fmt.Errorf("%w: fee requires a treasury account", ErrInvalidConfig)
	}

	return nil
}

// Settlement is the terminal duel state a payout is computed from.
type Settlement struct {
	DuelID      uint64
	Asset       string
	StakeAmount uint64

	Player1 string
	Player2 string
	Winner  string
	Draw    bool

	Caller string
}

type Payout struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
}
