package battle

import (
	"errors"
	"fmt"
)

// MaxStat is the largest base stat whose boosted product (base × 139) still
// fits in 16 bits, so every effective stat matches 16-bit circuit arithmetic.
const MaxStat = 471

var (
	ErrUnknownAlgorithm = errors.New("unknown resolution algorithm")
	ErrStatOutOfRange   = errors.New("stat out of range")
)

type Algorithm string

const (
	AlgorithmBasic    Algorithm = "basic"
	AlgorithmExtended Algorithm = "extended"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmBasic, AlgorithmExtended:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

type Stance uint8

const (
	StanceAggressive Stance = 0
	StanceDefensive  Stance = 1
	StanceBalanced   Stance = 2
)

type Stat uint8

const (
	StatAttack  Stat = 0
	StatDefense Stat = 1
	StatSpeed   Stat = 2
)

type Fighter struct {
	Attack      uint16 `json:"attack"`
	Defense     uint16 `json:"defense"`
	Speed       uint16 `json:"speed"`
	SpecialMove uint8  `json:"special_move"`
}

type Strategy struct {
	Stance     Stance `json:"stance"`
	TargetStat Stat   `json:"target_stat"`
	Combo1     uint8  `json:"combo1"`
	Combo2     uint8  `json:"combo2"`
	Combo3     uint8  `json:"combo3"`
}

type Player struct {
	Fighter     Fighter  `json:"fighter"`
	Strategy    Strategy `json:"strategy"`
	StakeAmount uint64   `json:"stake_amount"`
}

func (p Player) Validate() error {
	stats := []struct {
		name  string
		value uint16
	}{
		{"attack", p.Fighter.Attack},
		{"defense", p.Fighter.Defense},
		{"speed", p.Fighter.Speed},
	}

	for _, s := range stats {
		if s.value > MaxStat {
			return fmt.Errorf("%w: %s %d exceeds %d", ErrStatOutOfRange, s.name, s.value, MaxStat)
		}
	}

	return nil
}

// Outcome is the single revealed byte.
type Outcome uint8

const (
	OutcomeDraw        Outcome = 0
	OutcomePlayer1Wins Outcome = 1
	OutcomePlayer2Wins Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDraw:
		return "draw"
	case OutcomePlayer1Wins:
		return "player1"
	case OutcomePlayer2Wins:
		return "player2"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}
