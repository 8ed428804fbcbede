package compute

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vreid/duel/internal/pkg/battle"
)

// Cluster is the confidential-computation collaborator. Queue accepts a
// request and returns; the result arrives later as an Outcome.
type Cluster interface {
	Queue(ctx context.Context, req Request) error
}

func NewCluster(target string, callbackURL string, sink chan<- Outcome, done <-chan struct{}) (Cluster, error) {
	switch {
	case target == "":
		return nil, nil //nolint:nilnil
	case target == "local":
		return &LocalCluster{
			Sink:   sink,
			Done:   done,
			Source: battle.CryptoSource{},
		}, nil
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return NewHTTPCluster(target, callbackURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCluster, target)
	}
}

type HTTPCluster struct {
	client      *resty.Client
	callbackURL string
}

func NewHTTPCluster(baseURL, callbackURL string) *HTTPCluster {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second). //nolint:mnd
		SetHeader("Content-Type", "application/json")

	return &HTTPCluster{
		client:      client,
		callbackURL: callbackURL,
	}
}

func (c *HTTPCluster) Queue(ctx context.Context, req Request) error {
	req.CallbackURL = c.callbackURL

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/computations")
	if err != nil {
		return fmt.Errorf("failed to queue computation: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("%w: %s", ErrClusterRejected, resp.Status())
	}

	return nil
}

// LocalCluster stands in for the confidential network during development.
// It treats every ciphertext slot as a little-endian plaintext envelope.
type LocalCluster struct {
	Sink   chan<- Outcome
	Done   <-chan struct{}
	Source battle.Source
}

func SealU16(v uint16) Ciphertext {
	var c Ciphertext

	binary.LittleEndian.PutUint16(c[:2], v)

	return c
}

func SealU8(v uint8) Ciphertext {
	var c Ciphertext

	c[0] = v

	return c
}

func SealPlayer(p battle.Player) PlayerInput {
	//nolint:exhaustruct
	return PlayerInput{
		Fighter: SealedFighter{
			Attack:      SealU16(p.Fighter.Attack),
			Defense:     SealU16(p.Fighter.Defense),
			Speed:       SealU16(p.Fighter.Speed),
			SpecialMove: SealU8(p.Fighter.SpecialMove),
		},
		Strategy: SealedStrategy{
			Stance:     SealU8(uint8(p.Strategy.Stance)),
			TargetStat: SealU8(uint8(p.Strategy.TargetStat)),
			Combo1:     SealU8(p.Strategy.Combo1),
			Combo2:     SealU8(p.Strategy.Combo2),
			Combo3:     SealU8(p.Strategy.Combo3),
		},
	}
}

func openU16(arg Argument) (uint16, error) {
	err := expect(arg, ArgumentEncryptedU16, len(Ciphertext{}))
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(arg.Data[:2]), nil
}

func openU8(arg Argument) (uint8, error) {
	err := expect(arg, ArgumentEncryptedU8, len(Ciphertext{}))
	if err != nil {
		return 0, err
	}

	return arg.Data[0], nil
}

//nolint:cyclop
func openPlayer(algorithm battle.Algorithm, args []Argument) (battle.Player, error) {
	var (
		p   battle.Player
		err error
	)

	err = expect(args[0], ArgumentPublicKey, 32) //nolint:mnd
	if err != nil {
		return p, err
	}

	err = expect(args[1], ArgumentPlaintextU128, 16) //nolint:mnd
	if err != nil {
		return p, err
	}

	stats := []*uint16{&p.Fighter.Attack, &p.Fighter.Defense, &p.Fighter.Speed}
	for n, dst := range stats {
		*dst, err = openU16(args[2+n])
		if err != nil {
			return p, err
		}
	}

	if algorithm == battle.AlgorithmBasic {
		return p, nil
	}

	var stance, target uint8

	small := []*uint8{
		&p.Fighter.SpecialMove,
		&stance,
		&target,
		&p.Strategy.Combo1,
		&p.Strategy.Combo2,
		&p.Strategy.Combo3,
	}
	for n, dst := range small {
		*dst, err = openU8(args[5+n])
		if err != nil {
			return p, err
		}
	}

	p.Strategy.Stance = battle.Stance(stance)
	p.Strategy.TargetStat = battle.Stat(target)

	err = expect(args[11], ArgumentPlaintextU64, 0)
	if err != nil {
		return p, err
	}

	p.StakeAmount = args[11].Value

	return p, nil
}

// DecodeBattle is the inverse of BattleArguments for LocalCluster envelopes.
func DecodeBattle(algorithm battle.Algorithm, args []Argument) (battle.Player, battle.Player, error) {
	n, err := argsPerPlayer(algorithm)
	if err != nil {
		return battle.Player{}, battle.Player{}, err
	}

	if len(args) != 2*n {
		return battle.Player{}, battle.Player{}, fmt.Errorf("%w: %d arguments, want %d", ErrMalformedArguments, len(args), 2*n)
	}

	p1, err := openPlayer(algorithm, args[:n])
	if err != nil {
		return battle.Player{}, battle.Player{}, err
	}

	p2, err := openPlayer(algorithm, args[n:])
	if err != nil {
		return battle.Player{}, battle.Player{}, err
	}

	return p1, p2, nil
}

func (c *LocalCluster) Evaluate(req Request) Outcome {
	resolver, err := battle.New(req.Algorithm)
	if err != nil {
		return Failed(req.CorrelationID, err.Error())
	}

	p1, p2, err := DecodeBattle(req.Algorithm, req.Args)
	if err != nil {
		return Failed(req.CorrelationID, err.Error())
	}

	for _, p := range []battle.Player{p1, p2} {
		err = p.Validate()
		if err != nil {
			return Failed(req.CorrelationID, err.Error())
		}
	}

	return Succeeded(req.CorrelationID, resolver.Resolve(p1, p2, c.Source))
}

func (c *LocalCluster) Queue(_ context.Context, req Request) error {
	go func() {
		select {
		case c.Sink <- c.Evaluate(req):
		case <-c.Done:
		}
	}()

	return nil
}
