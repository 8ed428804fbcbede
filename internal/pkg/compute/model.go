package compute

import (
	"errors"
	"time"

	"github.com/vreid/duel/internal/pkg/battle"
)

var (
	ErrClusterNotSet      = errors.New("compute cluster not set")
	ErrUnknownCluster     = errors.New("unknown compute cluster")
	ErrClusterRejected    = errors.New("compute cluster rejected request")
	ErrRequestInFlight    = errors.New("computation already in flight for duel")
	ErrUnknownCorrelation = errors.New("no live computation for correlation id")
	ErrMissingCorrelation = errors.New("correlation id is required")
	ErrMalformedArguments = errors.New("malformed computation arguments")
	ErrNoResolver         = errors.New("no resolver registered")
	ErrInvalidSignature   = errors.New("invalid callback signature")

	ErrMissingCallbackSecret = errors.New("remote cluster requires a callback secret")

	ErrRequestsBucketNotFound = errors.New("requests bucket doesn't exist")
	ErrInflightBucketNotFound = errors.New("inflight bucket doesn't exist")
)

type ArgumentKind string

const (
	ArgumentPublicKey     ArgumentKind = "public_key"
	ArgumentPlaintextU128 ArgumentKind = "plaintext_u128"
	ArgumentPlaintextU64  ArgumentKind = "plaintext_u64"
	ArgumentEncryptedU8   ArgumentKind = "encrypted_u8"
	ArgumentEncryptedU16  ArgumentKind = "encrypted_u16"
)

type Argument struct {
	Kind  ArgumentKind `json:"kind"`
	Data  []byte       `json:"data,omitempty"`
	Value uint64       `json:"value,omitempty"`
}

type Ciphertext [32]byte

type Session struct {
	PublicKey [32]byte `json:"public_key"`
	Nonce     [16]byte `json:"nonce"`
}

type SealedFighter struct {
	Attack      Ciphertext `json:"attack"`
	Defense     Ciphertext `json:"defense"`
	Speed       Ciphertext `json:"speed"`
	SpecialMove Ciphertext `json:"special_move"`
}

type SealedStrategy struct {
	Stance     Ciphertext `json:"stance"`
	TargetStat Ciphertext `json:"target_stat"`
	Combo1     Ciphertext `json:"combo1"`
	Combo2     Ciphertext `json:"combo2"`
	Combo3     Ciphertext `json:"combo3"`
}

// PlayerInput is everything a player submits for the confidential battle.
// Only the session material is readable outside the cluster.
type PlayerInput struct {
	Session  Session        `json:"session"`
	Fighter  SealedFighter  `json:"fighter"`
	Strategy SealedStrategy `json:"strategy"`
}

type Request struct {
	CorrelationID string           `json:"correlation_id"`
	DuelID        uint64           `json:"duel_id"`
	Algorithm     battle.Algorithm `json:"algorithm"`
	Args          []Argument       `json:"args"`
	CallbackURL   string           `json:"callback_url,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}

type Outcome struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Result        uint8  `json:"result"`
	Reason        string `json:"reason,omitempty"`
}

func Succeeded(correlationID string, result battle.Outcome) Outcome {
	//nolint:exhaustruct
	return Outcome{
		CorrelationID: correlationID,
		Success:       true,
		Result:        uint8(result),
	}
}

func Failed(correlationID string, reason string) Outcome {
	//nolint:exhaustruct
	return Outcome{
		CorrelationID: correlationID,
		Reason:        reason,
	}
}
