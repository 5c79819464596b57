package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
	"github.com/stashfi/savings-server/pkg/savings/reconciliation"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/usdc"
)

type sendRequest struct {
	// Transaction is the base64 user-signed transaction from a build call.
	Transaction string `json:"transaction"`

	// Action is "deposit" or "withdraw" and drives the accounting split.
	Action string `json:"action"`
}

// accountingBreakdown renders the recorded split as UI-denominated decimal
// strings.
type accountingBreakdown struct {
	Gross     string `json:"gross"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
}

type sendResponse struct {
	Signature string `json:"signature"`
	Recorded  bool   `json:"recorded"`
	Reason    string `json:"reason,omitempty"`

	Accounting *accountingBreakdown `json:"accounting,omitempty"`
}

// send runs the co-sign pipeline over a user-signed transaction and, once
// broadcast, reconciles the confirmed effect into the ledger. A broadcast
// success is always reported as a success: bookkeeping failures downgrade
// Recorded, never the response status.
func (s *Server) send(w http.ResponseWriter, r *http.Request) {
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

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, savings.NewErrorWithReason(savings.ErrorInvalidPayload, err, "invalid request body"))
		return
	}

	direction, err := parseDirection(req.Action)
	if err != nil {
		writeError(w, savings.NewError(savings.ErrorInvalidPayload, err))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		writeError(w, savings.NewErrorWithReason(savings.ErrorInvalidPayload, err, "transaction is not valid base64"))
		return
	}
	var txn solana.Transaction
	if err := txn.Unmarshal(raw); err != nil {
		writeError(w, savings.NewErrorWithReason(savings.ErrorInvalidPayload, err, "transaction does not deserialize"))
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"method":       "send",
		"wallet":       wallet.PublicKey().ToBase58(),
		"account_type": accountType,
		"action":       req.Action,
	})

	outcome, err := s.pipeline.Submit(ctx, wallet, &txn)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := &sendResponse{
		Signature: outcome.SignatureString(),
	}

	userTokenAccount, err := s.userTokenAccount(wallet)
	if err != nil {
		log.WithError(err).Warn("failure deriving settlement account")
		resp.Reason = "bookkeeping deferred"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	result, err := s.reconciler.Reconcile(ctx, &reconciliation.Params{
		Wallet:      wallet.PublicKey().ToBase58(),
		AccountType: accountType,
		Direction:   direction,
		Signature:   outcome.SignatureString(),

		UserTokenAccount:     userTokenAccount.PublicKey().ToBase58(),
		TreasuryTokenAccount: s.treasuryTokenAccount(),

		Balances: outcome.TokenBalances,
	})
	if err != nil {
		// The money moved; only the bookkeeping lagged. Reconciliation is
		// retried out of band using the signature.
		log.WithError(err).WithField("signature", resp.Signature).Warn("reconciliation failed after broadcast")
		resp.Reason = "bookkeeping failed and will be retried"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Recorded = result.Recorded
	resp.Reason = result.Reason
	if result.Recorded {
		resp.Accounting = &accountingBreakdown{
			Gross:     usdc.FromQuarks(result.Amount),
			Fee:       usdc.FromQuarks(result.Fee),
			Net:       usdc.FromQuarks(result.Net),
			Principal: usdc.FromQuarks(result.PrincipalPart),
			Interest:  usdc.FromQuarks(result.InterestPart),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) treasuryTokenAccount() string {
	if s.conf.TreasuryTokenAccount != "" {
		return s.conf.TreasuryTokenAccount
	}

	mint, err := common.NewAccountFromPublicKeyBytes(usdc.TokenMint)
	if err != nil {
		return ""
	}
	treasury, err := s.subsidizer.Account().ToAssociatedTokenAccount(mint)
	if err != nil {
		return ""
	}
	return treasury.PublicKey().ToBase58()
}

func parseDirection(action string) (ledger.Direction, error) {
	switch action {
	case "deposit":
		return ledger.DirectionDeposit, nil
	case "withdraw":
		return ledger.DirectionWithdraw, nil
	}
	return ledger.DirectionUnknown, savings.NewErrorWithReason(savings.ErrorInvalidPayload, nil, "action must be deposit or withdraw")
}
