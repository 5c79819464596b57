package pipeline

import (
	"strings"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/solana"
)

// Custom program error raised by the swap aggregator when the executed price
// falls outside the quoted slippage tolerance.
const swapSlippageErrorCode = 6001

var slippageLogMarkers = []string{
	"slippagetoleranceexceeded",
	"slippage tolerance exceeded",
	"exceeds desired slippage limit",
}

var insufficientBalanceLogMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"insufficient balance",
}

// classifySimulationFailure maps a simulation error onto the failure
// taxonomy by inspecting the structured error code and the diagnostic log
// lines. Classification determines the user-facing message only; a failed
// simulation is never retried automatically.
func classifySimulationFailure(txErr *solana.TransactionError, logs []string) *savings.Error {
	reason := truncatedLogTail(txErr, logs)

	if txErr != nil {
		if txErr.ErrorKey() == solana.TransactionErrorBlockhashNotFound {
			return savings.NewErrorWithReason(savings.ErrorBlockhashExpired, txErr, reason)
		}

		if ixnErr := txErr.InstructionError(); ixnErr != nil {
			if ixnErr.ErrorKey() == solana.InstructionErrorInsufficientFunds {
				return savings.NewErrorWithReason(savings.ErrorInsufficientBalance, txErr, reason)
			}
			if customErr := ixnErr.CustomError(); customErr != nil && int(*customErr) == swapSlippageErrorCode {
				return savings.NewErrorWithReason(savings.ErrorSlippageExceeded, txErr, reason)
			}
		}
	}

	for _, line := range logs {
		lowered := strings.ToLower(line)
		for _, marker := range slippageLogMarkers {
			if strings.Contains(lowered, marker) {
				return savings.NewErrorWithReason(savings.ErrorSlippageExceeded, txErr, reason)
			}
		}
		for _, marker := range insufficientBalanceLogMarkers {
			if strings.Contains(lowered, marker) {
				return savings.NewErrorWithReason(savings.ErrorInsufficientBalance, txErr, reason)
			}
		}
	}

	return savings.NewErrorWithReason(savings.ErrorSimulationFailed, txErr, reason)
}

// classifyBroadcastFailure maps a broadcast-time error onto the same
// taxonomy. This is an independent code path from simulation classification
// because different failure text appears at each stage.
func classifyBroadcastFailure(err error) *savings.Error {
	if err == nil {
		return nil
	}

	lowered := strings.ToLower(err.Error())

	if strings.Contains(lowered, strings.ToLower(string(solana.TransactionErrorBlockhashNotFound))) ||
		strings.Contains(lowered, "blockhash not found") {
		return savings.NewError(savings.ErrorBlockhashExpired, err)
	}

	for _, marker := range slippageLogMarkers {
		if strings.Contains(lowered, marker) {
			return savings.NewError(savings.ErrorSlippageExceeded, err)
		}
	}

	for _, marker := range insufficientBalanceLogMarkers {
		if strings.Contains(lowered, marker) {
			return savings.NewError(savings.ErrorInsufficientBalance, err)
		}
	}
	if strings.Contains(lowered, strings.ToLower(string(solana.TransactionErrorInsufficientFundsForFee))) {
		return savings.NewError(savings.ErrorInsufficientBalance, err)
	}

	return savings.NewError(savings.ErrorBroadcastFailed, err)
}

func truncatedLogTail(txErr *solana.TransactionError, logs []string) string {
	var parts []string
	if txErr != nil {
		parts = append(parts, txErr.Error())
	}

	// The tail of the log is where programs report why they aborted.
	const maxLines = 5
	start := 0
	if len(logs) > maxLines {
		start = len(logs) - maxLines
	}
	parts = append(parts, logs[start:]...)

	return strings.Join(parts, " | ")
}
