package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/solana"
)

func TestClassifySimulationFailure(t *testing.T) {
	t.Run("blockhash expired", func(t *testing.T) {
		classified := classifySimulationFailure(
			solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound),
			nil,
		)
		assert.Equal(t, savings.ErrorBlockhashExpired, classified.Kind)
	})

	t.Run("insufficient funds instruction error", func(t *testing.T) {
		txErr, err := solana.ParseTransactionError(map[string]interface{}{
			"InstructionError": []interface{}{float64(2), "InsufficientFunds"},
		})
		require.NoError(t, err)

		classified := classifySimulationFailure(txErr, nil)
		assert.Equal(t, savings.ErrorInsufficientBalance, classified.Kind)
	})

	t.Run("slippage custom error code", func(t *testing.T) {
		txErr, err := solana.ParseTransactionError(map[string]interface{}{
			"InstructionError": []interface{}{
				float64(4),
				map[string]interface{}{"Custom": float64(swapSlippageErrorCode)},
			},
		})
		require.NoError(t, err)

		classified := classifySimulationFailure(txErr, nil)
		assert.Equal(t, savings.ErrorSlippageExceeded, classified.Kind)
	})

	t.Run("slippage from logs", func(t *testing.T) {
		classified := classifySimulationFailure(nil, []string{
			"Program log: Instruction: SharedAccountsRoute",
			"Program log: Error: SlippageToleranceExceeded",
		})
		assert.Equal(t, savings.ErrorSlippageExceeded, classified.Kind)
	})

	t.Run("insufficient balance from logs", func(t *testing.T) {
		classified := classifySimulationFailure(nil, []string{
			"Transfer: insufficient lamports 100, need 200",
		})
		assert.Equal(t, savings.ErrorInsufficientBalance, classified.Kind)
	})

	t.Run("unclassified carries truncated log tail", func(t *testing.T) {
		classified := classifySimulationFailure(nil, []string{
			"Program log: something nobody has seen before",
		})
		assert.Equal(t, savings.ErrorSimulationFailed, classified.Kind)
		assert.Contains(t, classified.Reason, "nobody has seen before")
		assert.NotEmpty(t, classified.CorrelationId)
	})
}

func TestClassifyBroadcastFailure(t *testing.T) {
	t.Run("blockhash expired", func(t *testing.T) {
		classified := classifyBroadcastFailure(errors.New("BlockhashNotFound"))
		assert.Equal(t, savings.ErrorBlockhashExpired, classified.Kind)
	})

	t.Run("insufficient funds for fee", func(t *testing.T) {
		classified := classifyBroadcastFailure(errors.New("InsufficientFundsForFee"))
		assert.Equal(t, savings.ErrorInsufficientBalance, classified.Kind)
	})

	t.Run("slippage", func(t *testing.T) {
		classified := classifyBroadcastFailure(errors.New("custom program error: slippage tolerance exceeded"))
		assert.Equal(t, savings.ErrorSlippageExceeded, classified.Kind)
	})

	t.Run("unclassified", func(t *testing.T) {
		classified := classifyBroadcastFailure(errors.New("connection reset by peer"))
		assert.Equal(t, savings.ErrorBroadcastFailed, classified.Kind)
	})
}
