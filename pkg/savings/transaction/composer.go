package transaction

import (
	"bytes"
	"context"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/solana"
	compute_budget "github.com/stashfi/savings-server/pkg/solana/computebudget"
)

var (
	// ErrTransactionTooLarge is returned when the serialized transaction
	// exceeds the network's hard size ceiling. The check runs before the
	// transaction is ever handed back, never at broadcast time.
	ErrTransactionTooLarge = errors.New("transaction exceeds maximum size")
)

const (
	defaultComputeUnitLimit = 1_400_000
	defaultComputeUnitPrice = 10_000
)

// ComposeArgs are the ordered instruction groups and composition inputs.
// Instructions are concatenated in a fixed priority order: compute unit
// limit, compute unit price, sponsored account creations, then action
// instructions in their natural dependency order.
type ComposeArgs struct {
	// ComputeUnitLimit and ComputeUnitPrice override the defaults when
	// non-zero. Upstream-provided compute budget instructions take
	// precedence over both.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64

	SponsoredCreations []solana.Instruction
	Actions            []solana.Instruction

	// LookupTableAddresses are base58 lookup tables to resolve and compress
	// account references with.
	LookupTableAddresses []string

	// ExtraSigners are freshly generated identities (e.g. a new sub-account)
	// that sign in-place before the transaction is handed back.
	ExtraSigners []*common.Account
}

// Composed is a fully assembled, partially signed transaction awaiting the
// user's signature.
type Composed struct {
	Txn        solana.Transaction
	Blockhash  solana.Blockhash
	Marshalled []byte

	// ExpiryHeight is the last block height at which the blockhash remains
	// valid. Past it, the composed transaction is worthless and must be
	// rebuilt.
	ExpiryHeight uint64
}

type Composer struct {
	log  *logrus.Entry
	data data.Provider
}

func NewComposer(data data.Provider) *Composer {
	return &Composer{
		log:  logrus.StandardLogger().WithField("type", "transaction/composer"),
		data: data,
	}
}

// Compose assembles one versioned transaction with the subsidizer as fee
// payer.
func (c *Composer) Compose(ctx context.Context, subsidizer *common.Subsidizer, args *ComposeArgs) (*Composed, error) {
	log := c.log.WithField("method", "Compose")

	ixns := c.assembleInstructions(args)

	lookupTables, err := c.resolveLookupTables(ctx, args.LookupTableAddresses)
	if err != nil {
		return nil, err
	}

	txn := solana.NewVersionedTransaction(
		subsidizer.PublicKey().ToBytes(),
		lookupTables,
		ixns,
	)

	blockhash, expiryHeight, err := c.data.GetBlockchainLatestBlockhash(ctx)
	if err != nil {
		log.WithError(err).Warn("failure getting latest blockhash")
		return nil, errors.Wrap(err, "error getting latest blockhash")
	}
	txn.SetBlockhash(blockhash)

	for _, signer := range args.ExtraSigners {
		if err := txn.Sign(signer.PrivateKey().ToBytes()); err != nil {
			return nil, errors.Wrap(err, "error signing with generated identity")
		}
	}

	marshalled := txn.Marshal()
	if len(marshalled) > solana.MaxTransactionSize {
		log.WithField("size", len(marshalled)).Info("composed transaction exceeds size ceiling")
		return nil, ErrTransactionTooLarge
	}

	return &Composed{
		Txn:          txn,
		Blockhash:    blockhash,
		Marshalled:   marshalled,
		ExpiryHeight: expiryHeight,
	}, nil
}

func (c *Composer) assembleInstructions(args *ComposeArgs) []solana.Instruction {
	computeUnitLimit := args.ComputeUnitLimit
	if computeUnitLimit == 0 {
		computeUnitLimit = defaultComputeUnitLimit
	}
	computeUnitPrice := args.ComputeUnitPrice
	if computeUnitPrice == 0 {
		computeUnitPrice = defaultComputeUnitPrice
	}

	// Upstream APIs ship their own compute budget instructions. Those are
	// hoisted into the fixed priority slots instead of being duplicated.
	actions := make([]solana.Instruction, 0, len(args.Actions))
	for _, ixn := range args.Actions {
		if bytes.Equal(ixn.Program, compute_budget.ProgramKey) {
			if compute_budget.IsSetComputeUnitLimit(ixn.Data) {
				if parsed, err := compute_budget.ParseSetComputeUnitLimitIxnData(ixn.Data); err == nil {
					computeUnitLimit = parsed
				}
				continue
			}
			if compute_budget.IsSetComputeUnitPrice(ixn.Data) {
				if parsed, err := compute_budget.ParseSetComputeUnitPriceIxnData(ixn.Data); err == nil {
					computeUnitPrice = parsed
				}
				continue
			}
		}
		actions = append(actions, ixn)
	}

	ixns := []solana.Instruction{
		compute_budget.SetComputeUnitLimit(computeUnitLimit),
		compute_budget.SetComputeUnitPrice(computeUnitPrice),
	}
	ixns = append(ixns, args.SponsoredCreations...)
	ixns = append(ixns, actions...)

	return ixns
}

func (c *Composer) resolveLookupTables(ctx context.Context, addresses []string) ([]solana.AddressLookupTable, error) {
	seen := make(map[string]struct{})

	var res []solana.AddressLookupTable
	for _, address := range addresses {
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}

		decoded, err := base58.Decode(address)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid lookup table address %s", address)
		}

		lookupTable, err := c.data.GetBlockchainAddressLookupTable(ctx, address)
		if err != nil {
			return nil, errors.Wrapf(err, "error resolving lookup table %s", address)
		}

		res = append(res, solana.AddressLookupTable{
			PublicKey: decoded,
			Addresses: lookupTable.Addresses,
		})
	}

	return res, nil
}
