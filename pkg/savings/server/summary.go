package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/usdc"
)

type summaryResponse struct {
	Wallet      string `json:"wallet"`
	AccountType string `json:"accountType"`
	SubAccount  string `json:"subAccount,omitempty"`

	PrincipalDeposited string `json:"principalDeposited"`
	PrincipalWithdrawn string `json:"principalWithdrawn"`
	PrincipalRemaining string `json:"principalRemaining"`
	InterestWithdrawn  string `json:"interestWithdrawn"`
	TotalDeposited     string `json:"totalDeposited"`
	TotalWithdrawn     string `json:"totalWithdrawn"`
	FeesPaid           string `json:"feesPaid"`

	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// getSummary returns the cached position summary. A wallet with no recorded
// activity gets a zeroed summary rather than an error; the distinction the
// client cares about is the numbers, not existence of the row.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
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

	record, err := s.data.GetSavingsAccount(ctx, wallet.PublicKey().ToBase58(), accountType)
	if err == account.ErrAccountNotFound {
		record = &account.Record{
			Wallet:      wallet.PublicKey().ToBase58(),
			AccountType: accountType,
		}
	} else if err != nil {
		s.log.WithError(err).Warn("failure getting savings account summary")
		writeError(w, err)
		return
	}

	principalRemaining := record.PrincipalDeposited
	if record.PrincipalWithdrawn >= principalRemaining {
		principalRemaining = 0
	} else {
		principalRemaining -= record.PrincipalWithdrawn
	}

	resp := &summaryResponse{
		Wallet:      record.Wallet,
		AccountType: string(record.AccountType),
		SubAccount:  record.SubAccount,

		PrincipalDeposited: usdc.FromQuarks(record.PrincipalDeposited),
		PrincipalWithdrawn: usdc.FromQuarks(record.PrincipalWithdrawn),
		PrincipalRemaining: usdc.FromQuarks(principalRemaining),
		InterestWithdrawn:  usdc.FromQuarks(record.InterestWithdrawn),
		TotalDeposited:     usdc.FromQuarks(record.TotalDeposited),
		TotalWithdrawn:     usdc.FromQuarks(record.TotalWithdrawn),
		FeesPaid:           usdc.FromQuarks(record.FeesPaid),
	}
	if !record.LastSyncedAt.IsZero() {
		syncedAt := record.LastSyncedAt
		resp.LastSyncedAt = &syncedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// getRates passes through the lending pool's advertised rates.
func (s *Server) getRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.lender.GetPoolRates(r.Context(), usdc.Mint)
	if err != nil {
		s.log.WithError(err).Warn("failure getting pool rates")
		writeError(w, classifyUpstreamError(err))
		return
	}
	writeJSON(w, http.StatusOK, rates)
}
