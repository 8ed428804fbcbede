package escrow

import (
	"fmt"
	"math/bits"

	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"go.etcd.io/bbolt"
)

// Distributor is the only holder of the vault releasing authority.
type Distributor struct {
	Ledger *Ledger
	Config RewardConfig

	logger *log.Logger
}

func NewDistributor(i do.Injector) (*Distributor, error) {
	ledger := do.MustInvoke[*Ledger](i)
	config := do.MustInvoke[RewardConfig](i)

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	return &Distributor{
		Ledger: ledger,
		Config: config,
		logger: log.New("distributor"),
	}, nil
}

// Fee returns floor(total × bps / 10000) without intermediate overflow.
func Fee(total, bps uint64) uint64 {
	if bps > MaxFeeBps {
		bps = MaxFeeBps
	}

	hi, lo := bits.Mul64(total, bps)
	q, _ := bits.Div64(hi, lo, MaxFeeBps)

	return q
}

func (d *Distributor) Payout(s Settlement) (Payout, error) {
	if s.Caller == "" || (s.Caller != s.Player1 && s.Caller != s.Player2) {
		//nolint:exhaustruct
		return Payout{}, ErrNotAParticipant
	}

	switch {
	case s.Draw:
		//nolint:exhaustruct
		return Payout{Recipient: s.Caller, Amount: s.StakeAmount}, nil
	case s.Caller == s.Winner:
		hi, total := bits.Mul64(s.StakeAmount, 2)
		if hi != 0 {
			//nolint:exhaustruct
			return Payout{}, fmt.Errorf("%w: stake %d", ErrBalanceOverflow, s.StakeAmount)
		}

		fee := Fee(total, d.Config.FeeBps)

		return Payout{Recipient: s.Caller, Amount: total - fee, Fee: fee}, nil
	case d.Config.StrictWinnerClaims:
		//nolint:exhaustruct
		return Payout{}, ErrNotTheWinner
	default:
		//nolint:exhaustruct
		return Payout{Recipient: s.Caller}, nil
	}
}

// Distribute computes the caller's payout and releases it from the vault
// within tx. Callers guard against repeated claims.
func (d *Distributor) Distribute(tx *bbolt.Tx, s Settlement) (Payout, error) {
	payout, err := d.Payout(s)
	if err != nil {
		return payout, err
	}

	if payout.Amount > 0 {
		err = d.Ledger.release(tx, s.DuelID, payout.Recipient, payout.Amount)
		if err != nil {
			return payout, fmt.Errorf("failed to release payout: %w", err)
		}
	}

	if payout.Fee > 0 {
		err = d.Ledger.release(tx, s.DuelID, d.Config.Treasury, payout.Fee)
		if err != nil {
			return payout, fmt.Errorf("failed to release fee: %w", err)
		}
	}

	d.logger.Infoj(log.JSON{
		"msg":       "payout computed",
		"duel_id":   s.DuelID,
		"recipient": payout.Recipient,
		"amount":    payout.Amount,
		"fee":       payout.Fee,
	})

	return payout, nil
}
