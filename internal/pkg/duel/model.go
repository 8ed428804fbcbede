package duel

import (
	"fmt"
	"time"

	"github.com/vreid/duel/internal/pkg/battle"
	"github.com/vreid/duel/internal/pkg/compute"
	"github.com/vreid/duel/internal/pkg/escrow"
)

type Status uint8

const (
	StatusOpen Status = iota
	StatusMatched
	StatusInBattle
	StatusCompleted
	StatusDraw
)

var statusNames = map[Status]string{
	StatusOpen:      "open",
	StatusMatched:   "matched",
	StatusInBattle:  "in_battle",
	StatusCompleted: "completed",
	StatusDraw:      "draw",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDraw
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}

	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status

			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}

const (
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Duel is retained forever; commands only ever advance it.
type Duel struct {
	ID        uint64           `json:"id"`
	Algorithm battle.Algorithm `json:"algorithm"`

	Player1      string `json:"player1"`
	Player1Asset string `json:"player1_asset"`
	Player2      string `json:"player2,omitempty"`
	Player2Asset string `json:"player2_asset,omitempty"`
	StakeAmount  uint64 `json:"stake_amount"`

	Player1Input compute.PlayerInput `json:"player1_input"`
	Player2Input compute.PlayerInput `json:"player2_input"`

	Status        Status `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Winner        string `json:"winner,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	Player1Claimed  bool `json:"player1_claimed"`
	Player2Claimed  bool `json:"player2_claimed"`
	WinningsClaimed bool `json:"winnings_claimed"`

	CreatedAt       time.Time `json:"created_at"`
	BattleStartedAt time.Time `json:"battle_started_at,omitzero"`
	ResolvedAt      time.Time `json:"resolved_at,omitzero"`
}

func (d *Duel) IsParticipant(account string) bool {
	return account != "" && (account == d.Player1 || account == d.Player2)
}

// View is the public shape of a duel. Sealed inputs and the live
// correlation id stay server side.
type View struct {
	ID        uint64           `json:"id"`
	Algorithm battle.Algorithm `json:"algorithm"`

	Player1     string `json:"player1"`
	Player2     string `json:"player2,omitempty"`
	Asset       string `json:"asset"`
	StakeAmount uint64 `json:"stake_amount"`

	Status        Status `json:"status"`
	Winner        string `json:"winner,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	Player1Claimed  bool `json:"player1_claimed"`
	Player2Claimed  bool `json:"player2_claimed"`
	WinningsClaimed bool `json:"winnings_claimed"`

	CreatedAt       time.Time `json:"created_at"`
	BattleStartedAt time.Time `json:"battle_started_at,omitzero"`
	ResolvedAt      time.Time `json:"resolved_at,omitzero"`
}

func (d *Duel) View() View {
	return View{
		ID:              d.ID,
		Algorithm:       d.Algorithm,
		Player1:         d.Player1,
		Player2:         d.Player2,
		Asset:           d.Player1Asset,
		StakeAmount:     d.StakeAmount,
		Status:          d.Status,
		Winner:          d.Winner,
		Outcome:         d.Outcome,
		FailureReason:   d.FailureReason,
		Player1Claimed:  d.Player1Claimed,
		Player2Claimed:  d.Player2Claimed,
		WinningsClaimed: d.WinningsClaimed,
		CreatedAt:       d.CreatedAt,
		BattleStartedAt: d.BattleStartedAt,
		ResolvedAt:      d.ResolvedAt,
	}
}

// ReadyForBattle reports whether the duel can be submitted for
// computation: freshly matched, or in battle after a failed computation.
func (d *Duel) ReadyForBattle() bool {
	return d.Status == StatusMatched || (d.Status == StatusInBattle && d.Outcome == OutcomeFailed)
}

func (d *Duel) claimed(account string) bool {
	if account == d.Player1 {
		return d.Player1Claimed
	}

	return d.Player2Claimed
}

func (d *Duel) markClaimed(account string) {
	if account == d.Player1 {
		d.Player1Claimed = true
	} else {
		d.Player2Claimed = true
	}

	switch d.Status {
	case StatusCompleted:
		d.WinningsClaimed = d.claimed(d.Winner)
	case StatusDraw:
		d.WinningsClaimed = d.Player1Claimed && d.Player2Claimed
	case StatusOpen, StatusMatched, StatusInBattle:
	}
}

func (d *Duel) settlement(caller string) escrow.Settlement {
	return escrow.Settlement{
		DuelID:      d.ID,
		Asset:       d.Player1Asset,
		StakeAmount: d.StakeAmount,
		Player1:     d.Player1,
		Player2:     d.Player2,
		Winner:      d.Winner,
		Draw:        d.Status == StatusDraw,
		Caller:      caller,
	}
}

// Entry is one player's stake and sealed battle inputs.
type Entry struct {
	Player      string              `json:"player"`
	Asset       string              `json:"asset"`
	StakeAmount uint64              `json:"stake_amount"`
	Input       compute.PlayerInput `json:"input"`
}

type EventKind string

const (
	EventDuelCreated     EventKind = "DuelCreated"
	EventDuelMatched     EventKind = "DuelMatched"
	EventBattleStarted   EventKind = "BattleStarted"
	EventBattleResult    EventKind = "BattleResult"
	EventWinningsClaimed EventKind = "WinningsClaimed"
)

type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	DuelID  uint64    `json:"duel_id"`
	Player  string    `json:"player,omitempty"`
	Winner  string    `json:"winner,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Amount  uint64    `json:"amount,omitempty"`
	At      time.Time `json:"at"`
}
