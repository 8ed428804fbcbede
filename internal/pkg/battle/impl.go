package battle

import "fmt"

const (
	firstStrikeBonus   = 10
	doubleSpecialBonus = 15
	sequentialBonus    = 10
)

// Resolver evaluates one duel. Implementations must be pure given the
// draws they take from src.
type Resolver interface {
	Algorithm() Algorithm
	Resolve(p1, p2 Player, src Source) Outcome
}

func New(a Algorithm) (Resolver, error) {
	switch a {
	case AlgorithmBasic:
		return Basic{}, nil
	case AlgorithmExtended:
		return Extended{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
	}
}

func Draw(src Source) uint16 {
	//nolint:gosec // always < 100
	return uint16(src.Uint32() % 100)
}

func compare(score1, score2 uint32) Outcome {
	if score1 > score2 {
		return OutcomePlayer1Wins
	}

	if score2 > score1 {
		return OutcomePlayer2Wins
	}

	return OutcomeDraw
}

type Basic struct{}

func (Basic) Algorithm() Algorithm {
	return AlgorithmBasic
}

func (Basic) Resolve(p1, p2 Player, src Source) Outcome {
	r := uint32(Draw(src))

	score1 := uint32(p1.Fighter.Attack) + uint32(p1.Fighter.Defense) + uint32(p1.Fighter.Speed) + r%20
	score2 := uint32(p2.Fighter.Attack) + uint32(p2.Fighter.Defense) + uint32(p2.Fighter.Speed) + (100-r)%20

	return compare(score1, score2)
}

// Extended draws one value per stat and applies it to both players.
type Extended struct{}

func (Extended) Algorithm() Algorithm {
	return AlgorithmExtended
}

type effective struct {
	attack  uint32
	defense uint32
	speed   uint32
}

func effectiveStats(p Player, r1, r2, r3 uint16) effective {
	return effective{
		attack:  EffectiveStat(p.Fighter.Attack, p.Strategy.Stance, StatAttack, r1),
		defense: EffectiveStat(p.Fighter.Defense, p.Strategy.Stance, StatDefense, r2),
		speed:   EffectiveStat(p.Fighter.Speed, p.Strategy.Stance, StatSpeed, r3),
	}
}

func (Extended) Resolve(p1, p2 Player, src Source) Outcome {
	r1 := Draw(src)
	r2 := Draw(src)
	r3 := Draw(src)

	e1 := effectiveStats(p1, r1, r2, r3)
	e2 := effectiveStats(p2, r1, r2, r3)

	var score1, score2 uint32

	if e1.speed > e2.speed {
		score1 += firstStrikeBonus
	} else {
		score2 += firstStrikeBonus
	}

	score1 += Damage(e1.attack, e2.defense)
	score2 += Damage(e2.attack, e1.defense)

	score1 += ComboBonus(p1.Strategy, p1.Fighter.SpecialMove)
	score2 += ComboBonus(p2.Strategy, p2.Fighter.SpecialMove)

	return compare(score1, score2)
}

func Multiplier(stance Stance, stat Stat) uint32 {
	switch {
	case stance == StanceAggressive && stat == StatAttack:
		return 120
	case stance == StanceDefensive && stat == StatDefense:
		return 120
	case stance == StanceBalanced:
		return 110
	default:
		return 100
	}
}

// EffectiveStat is base × (multiplier + r mod 20) / 100, truncated.
func EffectiveStat(base uint16, stance Stance, stat Stat, r uint16) uint32 {
	return uint32(base) * (Multiplier(stance, stat) + uint32(r%20)) / 100
}

// Damage is clamped at zero.
func Damage(attack, defense uint32) uint32 {
	if attack > defense {
		return attack - defense
	}

	return 0
}

func ComboBonus(s Strategy, specialMove uint8) uint32 {
	var bonus uint32

	if s.Combo1 == specialMove && s.Combo2 == specialMove {
		bonus += doubleSpecialBonus
	}

	c1, c2, c3 := int(s.Combo1), int(s.Combo2), int(s.Combo3)
	if c1+1 == c2 && c2+1 == c3 {
		bonus += sequentialBonus
	}

	return bonus
}
