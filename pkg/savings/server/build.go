package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/transaction"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/solana/rawixn"
	"github.com/stashfi/savings-server/pkg/usdc"
)

const (
	swapSlippageBps       = 50
	swapMaxAccounts       = 40
	swapUseSharedAccounts = true
)

type buildRequest struct {
	// Amount is a UI-denominated decimal string, e.g. "50.00".
	Amount string `json:"amount"`

	// ForceIdempotentCreation rewrites sponsored account creations to the
	// idempotent variant.
	ForceIdempotentCreation bool `json:"forceIdempotentCreation"`

	// SubAccountHint is an optional client-supplied sub-account to try first.
	SubAccountHint string `json:"subAccountHint"`

	// SwapFromMint funds a deposit by swapping another asset into the
	// settlement asset first. SwapFromAmount is an integer amount in the
	// source asset's base units.
	SwapFromMint   string `json:"swapFromMint,omitempty"`
	SwapFromAmount uint64 `json:"swapFromAmount,omitempty"`
}

type buildResponse struct {
	Transaction      string `json:"transaction"`
	SubAccount       string `json:"subAccount"`
	UserTokenAccount string `json:"userTokenAccount"`
	FeeSponsor       string `json:"feeSponsor"`
	ExpiryHeight     uint64 `json:"expiryHeight"`
	ReusedSubAccount bool   `json:"reusedSubAccount"`

	Rates *flexlend.PoolRates `json:"rates,omitempty"`
}

func (s *Server) buildDeposit(w http.ResponseWriter, r *http.Request) {
	s.build(w, r, true)
}

func (s *Server) buildWithdraw(w http.ResponseWriter, r *http.Request) {
	s.build(w, r, false)
}

func (s *Server) build(w http.ResponseWriter, r *http.Request, isDeposit bool) {
	ctx := r.Context()

	wallet, ok := walletFromContext(ctx)
	if !ok {
		writeError(w, savings.NewErrorWithReason(savings.ErrorUnauthorized, nil, "no authenticated wallet"))
		return
	}

	accountType, err := parseAccountType(mux.Vars(r)["accountType"])
	if err != nil {
		writeError(w, savings.NewError(savings.ErrorInvalidPayload, err))
		return
	}

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, savings.NewErrorWithReason(savings.ErrorInvalidPayload, err, "invalid request body"))
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"method":       "build",
		"wallet":       wallet.PublicKey().ToBase58(),
		"account_type": accountType,
	})

	userTokenAccount, err := s.userTokenAccount(wallet)
	if err != nil {
		writeError(w, err)
		return
	}

	resolution, err := s.resolver.ResolveSubAccount(ctx, wallet.PublicKey().ToBase58(), accountType, req.SubAccountHint)
	if err != nil {
		log.WithError(err).Warn("failure resolving sub account")
		writeError(w, err)
		return
	}
	s.pruneStaleHints(ctx, log, wallet.PublicKey().ToBase58(), accountType, resolution.StaleHints)

	var actions []solana.Instruction
	var lookupTables []string

	if isDeposit {
		actions, lookupTables, err = s.depositActions(ctx, wallet, userTokenAccount, resolution, &req)
	} else {
		actions, lookupTables, err = s.withdrawActions(ctx, wallet, accountType, resolution, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	sponsored, remaining, err := transaction.ExtractSponsoredCreations(s.subsidizer.Account(), actions)
	if err != nil {
		writeError(w, savings.NewError(savings.ErrorMalformedInstruction, err))
		return
	}
	if req.ForceIdempotentCreation {
		sponsored, err = transaction.ForceIdempotentCreations(sponsored)
		if err != nil {
			writeError(w, savings.NewError(savings.ErrorMalformedInstruction, err))
			return
		}
	}

	composeArgs := &transaction.ComposeArgs{
		SponsoredCreations:   sponsored,
		Actions:              remaining,
		LookupTableAddresses: lookupTables,
	}
	if !resolution.Existing {
		composeArgs.ExtraSigners = []*common.Account{resolution.SubAccount}
	}

	composed, err := s.composer.Compose(ctx, s.subsidizer, composeArgs)
	if err == transaction.ErrTransactionTooLarge {
		writeError(w, savings.NewError(savings.ErrorTransactionTooLarge, err))
		return
	} else if err != nil {
		log.WithError(err).Warn("failure composing transaction")
		writeError(w, err)
		return
	}

	subAccount := resolution.SubAccount.PublicKey().ToBase58()
	if err := s.data.AddSubAccountHint(ctx, wallet.PublicKey().ToBase58(), accountType, subAccount); err != nil {
		log.WithError(err).Warn("failure recording sub account hint")
	}

	resp := &buildResponse{
		Transaction:      base64.StdEncoding.EncodeToString(composed.Marshalled),
		SubAccount:       subAccount,
		UserTokenAccount: userTokenAccount.PublicKey().ToBase58(),
		FeeSponsor:       s.subsidizer.PublicKey().ToBase58(),
		ExpiryHeight:     composed.ExpiryHeight,
		ReusedSubAccount: resolution.Existing,
	}

	// Advertised rates ride along best effort; the UI shows APY next to the
	// confirmation sheet.
	if rates, err := s.lender.GetPoolRates(ctx, usdc.Mint); err == nil {
		resp.Rates = rates
	} else {
		log.WithError(err).Info("failure fetching pool rates")
	}

	writeJSON(w, http.StatusOK, resp)
}

// depositActions assembles the instruction list funding and executing a
// deposit: an optional swap leg into the settlement asset, sub-account
// initialization when none exists, then the protocol deposit.
func (s *Server) depositActions(
	ctx context.Context,
	wallet *common.Account,
	userTokenAccount *common.Account,
	resolution *transaction.Resolution,
	req *buildRequest,
) (actions []solana.Instruction, lookupTables []string, err error) {
	walletAddress := wallet.PublicKey().ToBase58()
	subAccount := resolution.SubAccount.PublicKey().ToBase58()

	var quarks uint64
	if req.SwapFromMint != "" && req.SwapFromMint != usdc.Mint {
		if req.SwapFromAmount == 0 {
			return nil, nil, savings.NewErrorWithReason(savings.ErrorInvalidAmount, nil, "swap amount is required")
		}

		quote, err := s.swapper.GetQuote(
			ctx,
			req.SwapFromMint,
			usdc.Mint,
			req.SwapFromAmount,
			swapSlippageBps,
			false,
			swapMaxAccounts,
			swapUseSharedAccounts,
		)
		if err != nil {
			return nil, nil, classifyUpstreamError(err)
		}
		quarks = quote.GetEstimatedSwapAmount()

		swapIxns, err := s.swapper.GetSwapInstructions(ctx, quote, walletAddress, userTokenAccount.PublicKey().ToBase58())
		if err != nil {
			return nil, nil, classifyUpstreamError(err)
		}

		actions = append(actions, swapIxns.ComputeBudgetInstructions...)
		actions = append(actions, swapIxns.SetupInstructions...)
		actions = append(actions, swapIxns.SwapInstruction)
		if swapIxns.CleanupInstruction != nil {
			actions = append(actions, *swapIxns.CleanupInstruction)
		}
		lookupTables = append(lookupTables, swapIxns.AddressLookupTableAddresses...)
	} else {
		quarks, err = usdc.ToQuarks(req.Amount)
		if err != nil {
			return nil, nil, savings.NewError(savings.ErrorInvalidAmount, err)
		}

		// Pre-flight balance check. Simulation re-checks after composition;
		// this catches the common case before any upstream calls are made.
		balance, err := s.data.GetBlockchainTokenAccountBalance(ctx, userTokenAccount.PublicKey().ToBase58())
		if err != nil && err != solana.ErrNoBalance {
			return nil, nil, errors.Wrap(err, "error getting settlement account balance")
		}
		if balance < quarks {
			return nil, nil, savings.NewErrorWithReason(savings.ErrorInsufficientBalance, nil, "settlement balance below requested amount")
		}
	}

	if !resolution.Existing {
		initSet, err := s.lender.GetInitAccountInstructions(ctx, walletAddress, subAccount, usdc.Mint)
		if err != nil {
			return nil, nil, classifyUpstreamError(err)
		}
		actions = append(actions, initSet.Instructions...)
		lookupTables = append(lookupTables, initSet.AddressLookupTableAddresses...)
	}

	depositSet, err := s.lender.GetDepositInstructions(ctx, walletAddress, subAccount, usdc.Mint, quarks)
	if err != nil {
		return nil, nil, classifyUpstreamError(err)
	}
	actions = append(actions, depositSet.Instructions...)
	lookupTables = append(lookupTables, depositSet.AddressLookupTableAddresses...)

	return actions, lookupTables, nil
}

// withdrawActions assembles the vault release instructions. Withdrawals
// require an existing, initialized sub-account.
func (s *Server) withdrawActions(
	ctx context.Context,
	wallet *common.Account,
	accountType account.AccountType,
	resolution *transaction.Resolution,
	req *buildRequest,
) ([]solana.Instruction, []string, error) {
	if !resolution.Existing {
		return nil, nil, savings.NewErrorWithReason(savings.ErrorNoProtocolPosition, nil, "no initialized sub account")
	}

	quarks, err := usdc.ToQuarks(req.Amount)
	if err != nil {
		return nil, nil, savings.NewError(savings.ErrorInvalidAmount, err)
	}

	aggregates, err := s.data.GetLedgerAggregates(ctx, wallet.PublicKey().ToBase58(), accountType)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error getting ledger aggregates")
	}
	if aggregates.TotalDeposited == 0 {
		return nil, nil, savings.NewErrorWithReason(savings.ErrorNoProtocolPosition, nil, "no recorded deposits")
	}

	withdrawSet, err := s.lender.GetWithdrawInstructions(
		ctx,
		wallet.PublicKey().ToBase58(),
		resolution.SubAccount.PublicKey().ToBase58(),
		usdc.Mint,
		quarks,
	)
	if err != nil {
		return nil, nil, classifyUpstreamError(err)
	}

	return withdrawSet.Instructions, withdrawSet.AddressLookupTableAddresses, nil
}

func (s *Server) userTokenAccount(wallet *common.Account) (*common.Account, error) {
	mint, err := common.NewAccountFromPublicKeyBytes(usdc.TokenMint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mint")
	}
	return wallet.ToAssociatedTokenAccount(mint)
}

func (s *Server) pruneStaleHints(ctx context.Context, log *logrus.Entry, wallet string, accountType account.AccountType, stale []string) {
	for _, hint := range stale {
		if err := s.data.RemoveSubAccountHint(ctx, wallet, accountType, hint); err != nil {
			log.WithError(err).WithField("sub_account", hint).Warn("failure pruning stale sub account hint")
		}
	}
}

func parseAccountType(value string) (account.AccountType, error) {
	switch account.AccountType(value) {
	case account.AccountTypeFlex:
		return account.AccountTypeFlex, nil
	case account.AccountTypePlus:
		return account.AccountTypePlus, nil
	}
	return "", errors.Errorf("unknown account type: %s", value)
}

// classifyUpstreamError distinguishes third-party schema drift, which is
// diagnosable, from transport failures, which are not.
func classifyUpstreamError(err error) error {
	var malformed *rawixn.MalformedInstructionError
	if errors.As(err, &malformed) {
		return savings.NewError(savings.ErrorMalformedInstruction, err)
	}
	return err
}
