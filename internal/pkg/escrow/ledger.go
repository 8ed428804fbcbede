package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"github.com/vreid/duel/internal/pkg/common"
	"go.etcd.io/bbolt"
)

// Ledger custodies stakes in one vault per duel. Deposits are public;
// releases are only reachable through a Distributor.
type Ledger struct {
	DatabaseService *common.DatabaseService

	Faucet bool

	logger *log.Logger
}

func NewLedger(i do.Injector) (*Ledger, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	faucet := do.MustInvokeNamed[bool](i, "faucet")

	result := &Ledger{
		DatabaseService: databaseService,
		Faucet:          faucet,
		logger:          log.New("escrow"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.register)

	return result, nil
}

func balanceKey(account, asset string) []byte {
	return []byte(account + "\x00" + asset)
}

func balances(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(common.BalancesBucket))
	if bucket == nil {
		return nil, ErrBalancesBucketNotFound
	}

	return bucket, nil
}

func vaults(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(common.VaultsBucket))
	if bucket == nil {
		return nil, ErrVaultsBucketNotFound
	}

	return bucket, nil
}

func balanceOf(tx *bbolt.Tx, account, asset string) (uint64, error) {
	bucket, err := balances(tx)
	if err != nil {
		return 0, err
	}

	return common.BytesToUint64(bucket.Get(balanceKey(account, asset)), 0), nil
}

func credit(tx *bbolt.Tx, account, asset string, amount uint64) error {
	bucket, err := balances(tx)
	if err != nil {
		return err
	}

	current := common.BytesToUint64(bucket.Get(balanceKey(account, asset)), 0)
	if amount > math.MaxUint64-current {
		return fmt.Errorf("%w: crediting %d to %s", ErrBalanceOverflow, amount, account)
	}

	err = bucket.Put(balanceKey(account, asset), common.Uint64ToBytes(current+amount))
	if err != nil {
		return fmt.Errorf("failed to put balance: %w", err)
	}

	return nil
}

func debit(tx *bbolt.Tx, account, asset string, amount uint64) error {
	bucket, err := balances(tx)
	if err != nil {
		return err
	}

	current := common.BytesToUint64(bucket.Get(balanceKey(account, asset)), 0)
	if current < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, account, current, asset, amount)
	}

	err = bucket.Put(balanceKey(account, asset), common.Uint64ToBytes(current-amount))
	if err != nil {
		return fmt.Errorf("failed to put balance: %w", err)
	}

	return nil
}

func getVault(tx *bbolt.Tx, duelID uint64) (*Vault, error) {
	bucket, err := vaults(tx)
	if err != nil {
		return nil, err
	}

	data := bucket.Get(common.IDKey(duelID))
	if data == nil {
		return nil, fmt.Errorf("%w: duel %d", ErrVaultNotFound, duelID)
	}

	var vault Vault

	err = json.Unmarshal(data, &vault)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault: %w", err)
	}

	return &vault, nil
}

func putVault(tx *bbolt.Tx, vault *Vault) error {
	bucket, err := vaults(tx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(vault)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	err = bucket.Put(common.IDKey(vault.DuelID), data)
	if err != nil {
		return fmt.Errorf("failed to put vault: %w", err)
	}

	return nil
}

// Deposit moves amount from payer into the duel's vault, opening the vault
// on first use. It must run inside the transaction that records the stake.
func (l *Ledger) Deposit(tx *bbolt.Tx, duelID uint64, payer, asset string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	vault, err := getVault(tx, duelID)
	if errors.Is(err, ErrVaultNotFound) {
		//nolint:exhaustruct
		vault, err = &Vault{DuelID: duelID, Asset: asset}, nil
	}

	if err != nil {
		return err
	}

	if vault.Asset != asset {
		return fmt.Errorf("%w: vault %d holds %s, got %s", ErrAssetMismatch, duelID, vault.Asset, asset)
	}

	if amount > math.MaxUint64-vault.Balance {
		return fmt.Errorf("%w: vault %d", ErrBalanceOverflow, duelID)
	}

	err = debit(tx, payer, asset, amount)
	if err != nil {
		return err
	}

	vault.Balance += amount
	vault.Deposited += amount

	return putVault(tx, vault)
}

func (l *Ledger) release(tx *bbolt.Tx, duelID uint64, recipient string, amount uint64) error {
	vault, err := getVault(tx, duelID)
	if err != nil {
		return err
	}

	if vault.Balance < amount {
		return fmt.Errorf("%w: vault %d holds %d, releasing %d", ErrVaultUnderfunded, duelID, vault.Balance, amount)
	}

	err = credit(tx, recipient, vault.Asset, amount)
	if err != nil {
		return err
	}

	vault.Balance -= amount
	vault.Released += amount

	return putVault(tx, vault)
}

// Fund credits an external account. Only used by the development faucet.
func (l *Ledger) Fund(account, asset string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	err := l.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		return credit(tx, account, asset, amount)
	})
	if err != nil {
		return fmt.Errorf("failed to fund %s: %w", account, err)
	}

	l.logger.Infoj(log.JSON{"msg": "account funded", "account": account, "asset": asset, "amount": amount})

	return nil
}

func (l *Ledger) Balance(account, asset string) (uint64, error) {
	var result uint64

	err := l.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		var err error

		result, err = balanceOf(tx, account, asset)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return result, nil
}

func (l *Ledger) Vault(duelID uint64) (*Vault, error) {
	var result *Vault

	err := l.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		var err error

		result, err = getVault(tx, duelID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	return result, nil
}
