package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/savings"
)

var statusByKind = map[savings.ErrorKind]int{
	savings.ErrorInvalidPayload:       http.StatusBadRequest,
	savings.ErrorInvalidAmount:        http.StatusBadRequest,
	savings.ErrorUnauthorized:         http.StatusUnauthorized,
	savings.ErrorOriginBlocked:        http.StatusForbidden,
	savings.ErrorNoProtocolPosition:   http.StatusNotFound,
	savings.ErrorInsufficientBalance:  http.StatusConflict,
	savings.ErrorSlippageExceeded:     http.StatusConflict,
	savings.ErrorBlockhashExpired:     http.StatusConflict,
	savings.ErrorTransactionTooLarge:  http.StatusBadRequest,
	savings.ErrorMalformedInstruction: http.StatusBadGateway,
	savings.ErrorSigningFailed:        http.StatusInternalServerError,
	savings.ErrorBroadcastFailed:      http.StatusBadGateway,
	savings.ErrorSimulationFailed:     http.StatusBadGateway,
	savings.ErrorReconciliationFailed: http.StatusInternalServerError,
}

type errorBody struct {
	Kind          savings.ErrorKind `json:"kind"`
	Message       string            `json:"message"`
	CorrelationId string            `json:"correlationId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError renders a classified error as structured JSON. Unclassified
// errors degrade to a bare 500 with no diagnostic detail; every classifiable
// failure mode should have been wrapped by the time it reaches here.
func writeError(w http.ResponseWriter, err error) {
	classified, ok := savings.AsError(err)
	if !ok {
		logrus.StandardLogger().WithField("type", "server").WithError(err).Warn("unclassified error reached response writer")
		classified = savings.NewError(savings.ErrorInvalidPayload, err)
		classified.Reason = ""
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Kind:          "internal",
			Message:       "Something went wrong. Please try again.",
			CorrelationId: classified.CorrelationId,
		}})
		return
	}

	status, ok := statusByKind[classified.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorResponse{Error: errorBody{
		Kind:          classified.Kind,
		Message:       classified.UserMessage(),
		CorrelationId: classified.CorrelationId,
	}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
