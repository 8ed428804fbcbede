package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"github.com/vreid/duel/internal/pkg/battle"
	"github.com/vreid/duel/internal/pkg/common"
	"github.com/vreid/duel/internal/pkg/compute"
	"github.com/vreid/duel/internal/pkg/escrow"
	"go.etcd.io/bbolt"
)

const EventsChannel = "duel:events"

// DuelService drives duels through their lifecycle. Every command runs in
// a single write transaction, so guards, escrow moves, and the audit event
// commit or roll back together.
type DuelService struct {
	DatabaseService *common.DatabaseService
	Ledger          *escrow.Ledger
	Distributor     *escrow.Distributor
	Orchestrator    *compute.Orchestrator
	ValkeyService   *common.ValkeyService

	Algorithm     battle.Algorithm
	BattleTimeout time.Duration
	AdminToken    string

	Now func() time.Time

	logger *log.Logger
}

func NewDuelService(i do.Injector) (*DuelService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	ledger := do.MustInvoke[*escrow.Ledger](i)
	distributor := do.MustInvoke[*escrow.Distributor](i)
	orchestrator := do.MustInvoke[*compute.Orchestrator](i)
	valkeyService := do.MustInvoke[*common.ValkeyService](i)

	algorithm := do.MustInvokeNamed[string](i, "algorithm")
	battleTimeout := do.MustInvokeNamed[time.Duration](i, "battle-timeout")
	adminToken := do.MustInvokeNamed[string](i, "admin-token")

	parsed, err := battle.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	result := &DuelService{
		DatabaseService: databaseService,
		Ledger:          ledger,
		Distributor:     distributor,
		Orchestrator:    orchestrator,
		ValkeyService:   valkeyService,

		Algorithm:     parsed,
		BattleTimeout: battleTimeout,
		AdminToken:    adminToken,

		Now: func() time.Time { return time.Now().UTC() },

		logger: log.New("duel"),
	}

	orchestrator.Handle(result)

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.register)

	return result, nil
}

func validateEntry(entry Entry) error {
	if entry.Player == "" {
		return ErrMissingPlayer
	}

	if entry.Asset == "" {
		return ErrMissingAsset
	}

	if entry.StakeAmount == 0 || entry.StakeAmount > math.MaxUint64/2 {
		return fmt.Errorf("%w: %d", ErrInvalidStake, entry.StakeAmount)
	}

	return nil
}

// mutate runs fn in a write transaction and publishes the events it
// produced once the transaction commits.
func (s *DuelService) mutate(ctx context.Context, fn func(tx *bbolt.Tx) ([]Event, error)) error {
	var events []Event

	err := s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		var err error

		events, err = fn(tx)
		if err != nil {
			return err
		}

		return recordEvents(tx, events)
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.publish(ctx, events)

	return nil
}

func (s *DuelService) publish(ctx context.Context, events []Event) {
	for _, event := range events {
		s.logger.Infoj(log.JSON{
			"msg":     "duel event",
			"seq":     event.Seq,
			"kind":    event.Kind,
			"duel_id": event.DuelID,
			"player":  event.Player,
			"winner":  event.Winner,
			"outcome": event.Outcome,
			"amount":  event.Amount,
		})

		if !s.ValkeyService.Enabled() {
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Warnj(log.JSON{
				"msg":   "failed to encode duel event",
				"seq":   event.Seq,
				"error": err.Error(),
			})

			continue
		}

		err = s.ValkeyService.Publish(ctx, EventsChannel, payload)
		if err != nil {
			s.logger.Warnj(log.JSON{
				"msg":   "failed to publish duel event",
				"seq":   event.Seq,
				"error": err.Error(),
			})
		}
	}
}

// Create opens a duel with the creator's stake locked in its vault.
func (s *DuelService) Create(ctx context.Context, duelID uint64, algorithm battle.Algorithm, entry Entry) (*Duel, error) {
	if algorithm == "" {
		algorithm = s.Algorithm
	}

	_, err := battle.New(algorithm)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = validateEntry(entry)
	if err != nil {
		return nil, err
	}

	var result *Duel

	err = s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		var events []Event

		result, events, err = s.create(tx, duelID, algorithm, entry)

		return events, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create duel: %w", err)
	}

	return result, nil
}

func (s *DuelService) create(tx *bbolt.Tx, duelID uint64, algorithm battle.Algorithm, entry Entry) (*Duel, []Event, error) {
	_, err := getDuel(tx, duelID)
	if err == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrDuelExists, duelID)
	}

	if !errors.Is(err, ErrDuelNotFound) {
		return nil, nil, err
	}

	err = s.Ledger.Deposit(tx, duelID, entry.Player, entry.Asset, entry.StakeAmount)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	now := s.Now()

	//nolint:exhaustruct
	d := &Duel{
		ID:           duelID,
		Algorithm:    algorithm,
		Player1:      entry.Player,
		Player1Asset: entry.Asset,
		StakeAmount:  entry.StakeAmount,
		Player1Input: entry.Input,
		Status:       StatusOpen,
		CreatedAt:    now,
	}

	err = putDuel(tx, d)
	if err != nil {
		return nil, nil, err
	}

	//nolint:exhaustruct
	return d, []Event{{
		Kind:   EventDuelCreated,
		DuelID: duelID,
		Player: entry.Player,
		Amount: entry.StakeAmount,
		At:     now,
	}}, nil
}

// Join matches an open duel, locking the opponent's equal stake.
func (s *DuelService) Join(ctx context.Context, duelID uint64, entry Entry) (*Duel, error) {
	if entry.Player == "" {
		return nil, ErrMissingPlayer
	}

	var result *Duel

	err := s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		var (
			events []Event
			err    error
		)

		result, events, err = s.join(tx, duelID, entry)

		return events, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join duel: %w", err)
	}

	return result, nil
}

func (s *DuelService) join(tx *bbolt.Tx, duelID uint64, entry Entry) (*Duel, []Event, error) {
	d, err := getDuel(tx, duelID)
	if err != nil {
		return nil, nil, err
	}

	if d.Status != StatusOpen {
		return nil, nil, fmt.Errorf("%w: duel %d is %s", ErrDuelNotOpen, duelID, d.Status)
	}

	if entry.Player == d.Player1 {
		return nil, nil, ErrCannotDuelYourself
	}

	if entry.Asset == "" {
		entry.Asset = d.Player1Asset
	}

	if entry.Asset != d.Player1Asset {
		return nil, nil, fmt.Errorf("%w: duel %d holds %s", escrow.ErrAssetMismatch, duelID, d.Player1Asset)
	}

	if entry.StakeAmount != 0 && entry.StakeAmount != d.StakeAmount {
		return nil, nil, fmt.Errorf("%w: duel %d requires %d", ErrInvalidStake, duelID, d.StakeAmount)
	}

	err = s.Ledger.Deposit(tx, duelID, entry.Player, entry.Asset, d.StakeAmount)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	d.Player2 = entry.Player
	d.Player2Asset = entry.Asset
	d.Player2Input = entry.Input
	d.Status = StatusMatched

	err = putDuel(tx, d)
	if err != nil {
		return nil, nil, err
	}

	//nolint:exhaustruct
	return d, []Event{{
		Kind:   EventDuelMatched,
		DuelID: duelID,
		Player: entry.Player,
		Amount: d.StakeAmount,
		At:     s.Now(),
	}}, nil
}

// Stake creates the duel when it does not exist yet and joins it otherwise.
func (s *DuelService) Stake(ctx context.Context, duelID uint64, algorithm battle.Algorithm, entry Entry) (*Duel, error) {
	if algorithm == "" {
		algorithm = s.Algorithm
	}

	_, err := battle.New(algorithm)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = validateEntry(entry)
	if err != nil {
		return nil, err
	}

	var result *Duel

	err = s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		var events []Event

		_, err := getDuel(tx, duelID)

		switch {
		case errors.Is(err, ErrDuelNotFound):
			result, events, err = s.create(tx, duelID, algorithm, entry)
		case err != nil:
			return nil, err
		default:
			result, events, err = s.join(tx, duelID, entry)
		}

		return events, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stake: %w", err)
	}

	return result, nil
}

// StartBattle records the battle and its computation request, then hands
// the request to the cluster after commit. A rejected request leaves the
// duel failed and resubmittable, like a failure callback. An empty
// correlationID gets a fresh time-ordered one.
func (s *DuelService) StartBattle(ctx context.Context, duelID uint64, correlationID string) (*Duel, error) {
	if correlationID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate correlation id: %w", err)
		}

		correlationID = id.String()
	}

	var (
		result *Duel
		req    compute.Request
	)

	err := s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		d, err := getDuel(tx, duelID)
		if err != nil {
			return nil, err
		}

		if !d.ReadyForBattle() {
			return nil, fmt.Errorf("%w: duel %d is %s", ErrBattleNotReady, duelID, d.Status)
		}

		args, err := compute.BattleArguments(d.Algorithm, d.Player1Input, d.Player2Input, d.StakeAmount)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		now := s.Now()

		//nolint:exhaustruct
		req = compute.Request{
			CorrelationID: correlationID,
			DuelID:        duelID,
			Algorithm:     d.Algorithm,
			Args:          args,
			SubmittedAt:   now,
		}

		err = s.Orchestrator.Submit(tx, req)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		d.Status = StatusInBattle
		d.CorrelationID = correlationID
		d.Outcome = ""
		d.FailureReason = ""
		d.BattleStartedAt = now

		err = putDuel(tx, d)
		if err != nil {
			return nil, err
		}

		result = d

		//nolint:exhaustruct
		return []Event{{
			Kind:   EventBattleStarted,
			DuelID: duelID,
			At:     now,
		}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start battle: %w", err)
	}

	err = s.Orchestrator.Dispatch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start battle: %w", err)
	}

	return result, nil
}

// ResolveCallback applies a computation outcome. The live request is
// consumed in the same transaction, so a replayed outcome is rejected as
// stale. A failed computation is recorded but leaves the duel in battle.
func (s *DuelService) ResolveCallback(ctx context.Context, outcome compute.Outcome) error {
	var failure string

	var duelID uint64

	err := s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		req, err := s.Orchestrator.Consume(tx, outcome.CorrelationID)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		duelID = req.DuelID

		d, err := getDuel(tx, req.DuelID)
		if err != nil {
			return nil, err
		}

		if d.Status != StatusInBattle || d.CorrelationID != outcome.CorrelationID {
			return nil, fmt.Errorf("%w: duel %d is %s", ErrStaleCallback, d.ID, d.Status)
		}

		now := s.Now()

		//nolint:exhaustruct
		event := Event{
			Kind:   EventBattleResult,
			DuelID: d.ID,
			At:     now,
		}

		switch {
		case !outcome.Success:
			failure = outcome.Reason
		case outcome.Result > uint8(battle.OutcomePlayer2Wins):
			failure = fmt.Sprintf("unexpected result %d", outcome.Result)
		}

		if failure != "" {
			d.Outcome = OutcomeFailed
			d.FailureReason = failure
			d.CorrelationID = ""
			event.Outcome = OutcomeFailed
		} else {
			result := battle.Outcome(outcome.Result)

			switch result {
			case battle.OutcomePlayer1Wins:
				d.Status = StatusCompleted
				d.Winner = d.Player1
			case battle.OutcomePlayer2Wins:
				d.Status = StatusCompleted
				d.Winner = d.Player2
			case battle.OutcomeDraw:
				d.Status = StatusDraw
			}

			d.Outcome = result.String()
			d.ResolvedAt = now
			event.Winner = d.Winner
			event.Outcome = d.Outcome
		}

		err = putDuel(tx, d)
		if err != nil {
			return nil, err
		}

		return []Event{event}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve callback: %w", err)
	}

	if failure != "" {
		return fmt.Errorf("%w: duel %d: %s", ErrBattleComputationFailed, duelID, failure)
	}

	return nil
}

// Claim pays the caller out of a resolved duel's vault.
func (s *DuelService) Claim(ctx context.Context, duelID uint64, caller string) (escrow.Payout, error) {
	var result escrow.Payout

	err := s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		d, err := getDuel(tx, duelID)
		if err != nil {
			return nil, err
		}

		if !d.IsParticipant(caller) {
			return nil, ErrNotAParticipant
		}

		if !d.Status.Terminal() {
			return nil, fmt.Errorf("%w: duel %d is %s", ErrBattleNotCompleted, duelID, d.Status)
		}

		if d.WinningsClaimed || d.claimed(caller) {
			return nil, ErrWinningsAlreadyClaimed
		}

		payout, err := s.Distributor.Distribute(tx, d.settlement(caller))
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		d.markClaimed(caller)

		err = putDuel(tx, d)
		if err != nil {
			return nil, err
		}

		result = payout

		//nolint:exhaustruct
		return []Event{{
			Kind:   EventWinningsClaimed,
			DuelID: duelID,
			Player: caller,
			Winner: d.Winner,
			Amount: payout.Amount,
			At:     s.Now(),
		}}, nil
	})
	if err != nil {
		//nolint:exhaustruct
		return escrow.Payout{}, fmt.Errorf("failed to claim: %w", err)
	}

	return result, nil
}

// Abort resolves a battle whose computation never came back as a draw, so
// both players can reclaim their stakes.
func (s *DuelService) Abort(ctx context.Context, duelID uint64) (*Duel, error) {
	if s.BattleTimeout <= 0 {
		return nil, ErrAbortDisabled
	}

	var result *Duel

	err := s.mutate(ctx, func(tx *bbolt.Tx) ([]Event, error) {
		d, err := getDuel(tx, duelID)
		if err != nil {
			return nil, err
		}

		if d.Status != StatusInBattle {
			return nil, fmt.Errorf("%w: duel %d is %s", ErrBattleNotInProgress, duelID, d.Status)
		}

		now := s.Now()

		if now.Sub(d.BattleStartedAt) < s.BattleTimeout {
			return nil, fmt.Errorf("%w: duel %d started at %s", ErrBattleNotTimedOut, duelID, d.BattleStartedAt)
		}

		_, err = s.Orchestrator.ConsumeDuel(tx, duelID)
		if err != nil && !errors.Is(err, compute.ErrUnknownCorrelation) {
			return nil, err //nolint:wrapcheck
		}

		d.Status = StatusDraw
		d.Winner = ""
		d.Outcome = OutcomeAborted
		d.CorrelationID = ""
		d.ResolvedAt = now

		err = putDuel(tx, d)
		if err != nil {
			return nil, err
		}

		result = d

		//nolint:exhaustruct
		return []Event{{
			Kind:    EventBattleResult,
			DuelID:  duelID,
			Outcome: OutcomeAborted,
			At:      now,
		}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to abort battle: %w", err)
	}

	return result, nil
}

func (s *DuelService) Get(duelID uint64) (*Duel, error) {
	var result *Duel

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		var err error

		result, err = getDuel(tx, duelID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get duel: %w", err)
	}

	return result, nil
}

func (s *DuelService) Events(duelID uint64) ([]Event, error) {
	var result []Event

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		var err error

		result, err = listEvents(tx, duelID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return result, nil
}
