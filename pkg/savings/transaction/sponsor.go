package transaction

import (
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/solana/token"
)

// ExtractSponsoredCreations scans an instruction set for associated token
// account creations, rewrites each to be paid for by the subsidizer, and
// deduplicates by derived account address. Multiple upstream flows may
// independently request creation of the same account; the second and later
// occurrences are dropped. The user never pays rent for accounts the platform
// requires for settlement.
//
// Returns the sponsored creation instructions, which must be placed first,
// and all remaining instructions in their original order.
func ExtractSponsoredCreations(subsidizer *common.Account, instructions []solana.Instruction) (sponsored, remaining []solana.Instruction, err error) {
	seen := make(map[string]struct{})

	for _, ixn := range instructions {
		decompiled, err := token.DecompileCreateAssociatedAccountFromInstruction(ixn)
		if err != nil {
			remaining = append(remaining, ixn)
			continue
		}

		key := base58.Encode(decompiled.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		var rewritten solana.Instruction
		if decompiled.Idempotent {
			rewritten, _, err = token.CreateAssociatedTokenAccountIdempotent(
				subsidizer.PublicKey().ToBytes(),
				decompiled.Owner,
				decompiled.Mint,
			)
		} else {
			rewritten, _, err = token.CreateAssociatedTokenAccount(
				subsidizer.PublicKey().ToBytes(),
				decompiled.Owner,
				decompiled.Mint,
			)
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "error rewriting account creation instruction")
		}

		sponsored = append(sponsored, rewritten)
	}

	return sponsored, remaining, nil
}

// ForceIdempotentCreations rewrites sponsored creation instructions to the
// idempotent variant, so a rebuilt transaction cannot fail on an account a
// previous attempt already created.
func ForceIdempotentCreations(instructions []solana.Instruction) ([]solana.Instruction, error) {
	res := make([]solana.Instruction, 0, len(instructions))
	for _, ixn := range instructions {
		decompiled, err := token.DecompileCreateAssociatedAccountFromInstruction(ixn)
		if err != nil {
			return nil, errors.Wrap(err, "instruction is not an account creation")
		}

		rewritten, _, err := token.CreateAssociatedTokenAccountIdempotent(
			decompiled.Subsidizer,
			decompiled.Owner,
			decompiled.Mint,
		)
		if err != nil {
			return nil, errors.Wrap(err, "error rewriting account creation instruction")
		}
		res = append(res, rewritten)
	}
	return res, nil
}
