package transaction

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	account_type "github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/solana"
)

// Resolution is the outcome of resolving a user's protocol sub-account.
type Resolution struct {
	// SubAccount is the resolved or freshly generated sub-account identity.
	// When Existing is false it carries a private key and must sign the
	// composed transaction.
	SubAccount *common.Account

	// Existing indicates an already initialized sub-account was reused
	Existing bool

	// StaleHints are candidates that failed validation. Callers may prune
	// them from storage.
	StaleHints []string
}

type Resolver struct {
	log  *logrus.Entry
	data data.Provider
}

func NewResolver(data data.Provider) *Resolver {
	return &Resolver{
		log:  logrus.StandardLogger().WithField("type", "transaction/resolver"),
		data: data,
	}
}

// ResolveSubAccount determines whether the user already owns a valid protocol
// sub-account or whether a new one must be initialized inline.
//
// A request-supplied hint is tried first, but is validated exactly like
// stored hints, never trusted blindly. The first candidate that exists on
// chain, is owned by the lending program, and carries at least the protocol's
// minimum account data length wins.
func (r *Resolver) ResolveSubAccount(ctx context.Context, wallet string, accountType account_type.AccountType, requestHint string) (*Resolution, error) {
	log := r.log.WithFields(logrus.Fields{
		"method": "ResolveSubAccount",
		"wallet": wallet,
	})

	stored, err := r.data.GetSubAccountHints(ctx, wallet, accountType)
	if err != nil {
		return nil, errors.Wrap(err, "error getting stored sub-account hints")
	}

	var candidates []string
	seen := make(map[string]struct{})
	for _, candidate := range append([]string{requestHint}, stored...) {
		if len(candidate) == 0 {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, candidate)
	}

	var stale []string
	for _, candidate := range candidates {
		valid, err := r.validateCandidate(ctx, candidate)
		if err != nil {
			return nil, err
		}

		if !valid {
			stale = append(stale, candidate)
			continue
		}

		subAccount, err := common.NewAccountFromPublicKeyString(candidate)
		if err != nil {
			log.WithError(err).Warn("skipping invalid sub-account candidate")
			stale = append(stale, candidate)
			continue
		}

		return &Resolution{
			SubAccount: subAccount,
			Existing:   true,
			StaleHints: stale,
		}, nil
	}

	fresh, err := common.NewRandomAccount()
	if err != nil {
		return nil, errors.Wrap(err, "error generating sub-account identity")
	}

	return &Resolution{
		SubAccount: fresh,
		Existing:   false,
		StaleHints: stale,
	}, nil
}

func (r *Resolver) validateCandidate(ctx context.Context, candidate string) (bool, error) {
	accountInfo, err := r.data.GetBlockchainAccountInfo(ctx, candidate, solana.CommitmentFinalized)
	if err == solana.ErrNoAccountInfo {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "error getting sub-account info")
	}

	if !bytes.Equal(accountInfo.Owner, flexlend.ProgramKey) {
		return false, nil
	}

	if len(accountInfo.Data) < flexlend.MinAccountDataSize {
		return false, nil
	}

	return true, nil
}
