package compute

import (
	"fmt"

	"github.com/vreid/duel/internal/pkg/battle"
)

const (
	basicArgsPerPlayer    = 5
	extendedArgsPerPlayer = 12
)

func publicKey(k [32]byte) Argument {
	//nolint:exhaustruct
	return Argument{Kind: ArgumentPublicKey, Data: k[:]}
}

func nonce(n [16]byte) Argument {
	//nolint:exhaustruct
	return Argument{Kind: ArgumentPlaintextU128, Data: n[:]}
}

func encrypted(kind ArgumentKind, c Ciphertext) Argument {
	//nolint:exhaustruct
	return Argument{Kind: kind, Data: c[:]}
}

func playerArguments(algorithm battle.Algorithm, input PlayerInput, stakeAmount uint64) []Argument {
	args := []Argument{
		publicKey(input.Session.PublicKey),
		nonce(input.Session.Nonce),
		encrypted(ArgumentEncryptedU16, input.Fighter.Attack),
		encrypted(ArgumentEncryptedU16, input.Fighter.Defense),
		encrypted(ArgumentEncryptedU16, input.Fighter.Speed),
	}

	if algorithm == battle.AlgorithmBasic {
		return args
	}

	return append(args,
		encrypted(ArgumentEncryptedU8, input.Fighter.SpecialMove),
		encrypted(ArgumentEncryptedU8, input.Strategy.Stance),
		encrypted(ArgumentEncryptedU8, input.Strategy.TargetStat),
		encrypted(ArgumentEncryptedU8, input.Strategy.Combo1),
		encrypted(ArgumentEncryptedU8, input.Strategy.Combo2),
		encrypted(ArgumentEncryptedU8, input.Strategy.Combo3),
		Argument{Kind: ArgumentPlaintextU64, Data: nil, Value: stakeAmount},
	)
}

// BattleArguments lays out both players' inputs in the order the battle
// circuit for algorithm expects them.
func BattleArguments(algorithm battle.Algorithm, p1, p2 PlayerInput, stakeAmount uint64) ([]Argument, error) {
	_, err := battle.New(algorithm)
	if err != nil {
		return nil, err
	}

	args := playerArguments(algorithm, p1, stakeAmount)
	args = append(args, playerArguments(algorithm, p2, stakeAmount)...)

	return args, nil
}

func argsPerPlayer(algorithm battle.Algorithm) (int, error) {
	switch algorithm {
	case battle.AlgorithmBasic:
		return basicArgsPerPlayer, nil
	case battle.AlgorithmExtended:
		return extendedArgsPerPlayer, nil
	default:
		return 0, fmt.Errorf("%w: %q", battle.ErrUnknownAlgorithm, algorithm)
	}
}

func expect(arg Argument, kind ArgumentKind, size int) error {
	if arg.Kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedArguments, kind, arg.Kind)
	}

	if size > 0 && len(arg.Data) != size {
		return fmt.Errorf("%w: %s carries %d bytes", ErrMalformedArguments, kind, len(arg.Data))
	}

	return nil
}
