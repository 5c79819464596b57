package common

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/solana"
)

// minSubsidizerBalance is the lamport balance below which the subsidizer can
// no longer reliably pay fees and rent for sponsored account creations.
const minSubsidizerBalance = 1_000_000_000 // 1 SOL

var ErrSubsidizerRequiresFunding = errors.New("subsidizer requires funding")

// Subsidizer is the platform fee payer. It is constructed once at startup and
// passed explicitly to anything that needs to pay for or co-sign
// transactions.
type Subsidizer struct {
	log     *logrus.Entry
	account *Account
}

// NewSubsidizer wraps a funded platform account. The account must carry a
// private key.
func NewSubsidizer(account *Account) (*Subsidizer, error) {
	if err := account.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid subsidizer account")
	}

	if account.PrivateKey() == nil {
		return nil, errors.New("subsidizer account requires a private key")
	}

	return &Subsidizer{
		log:     logrus.StandardLogger().WithField("type", "common/subsidizer"),
		account: account,
	}, nil
}

// NewSubsidizerFromEnvironment loads the subsidizer from a base58 private key
// string and verifies it is funded well enough to operate.
func NewSubsidizerFromEnvironment(ctx context.Context, client solana.Client, privateKey string) (*Subsidizer, error) {
	account, err := NewAccountFromPrivateKeyString(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid subsidizer private key")
	}

	subsidizer, err := NewSubsidizer(account)
	if err != nil {
		return nil, err
	}

	if err := subsidizer.checkFunding(ctx, client); err != nil {
		return nil, err
	}

	return subsidizer, nil
}

func (s *Subsidizer) Account() *Account {
	return s.account
}

func (s *Subsidizer) PublicKey() *Key {
	return s.account.PublicKey()
}

// Sign signs the provided message with the subsidizer's private key.
func (s *Subsidizer) Sign(message []byte) ([]byte, error) {
	return s.account.Sign(message)
}

func (s *Subsidizer) checkFunding(ctx context.Context, client solana.Client) error {
	log := s.log.WithField("method", "checkFunding")

	accountInfo, err := client.GetAccountInfo(s.account.PublicKey().ToBytes(), solana.CommitmentFinalized)
	if err == solana.ErrNoAccountInfo {
		return ErrSubsidizerRequiresFunding
	} else if err != nil {
		log.WithError(err).Warn("failure getting subsidizer account info")
		return errors.Wrap(err, "error getting subsidizer account info")
	}

	if accountInfo.Lamports < minSubsidizerBalance {
		log.WithField("balance", accountInfo.Lamports).Warn("subsidizer balance below minimum")
		return ErrSubsidizerRequiresFunding
	}

	return nil
}
