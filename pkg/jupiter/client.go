package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/stashfi/savings-server/pkg/metrics"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/solana/rawixn"
)

// Reference: https://station.jup.ag/docs/apis/swap-api

const (
	DefaultApiBaseUrl = "https://quote-api.jup.ag/v6/"

	quoteEndpointName            = "quote"
	swapInstructionsEndpointName = "swap-instructions"

	metricsStructName = "jupiter.client"
)

type Client struct {
	baseUrl    string
	httpClient *http.Client
}

// NewClient returns a new Jupiter client for performing on-chain swaps
func NewClient(baseUrl string) *Client {
	return &Client{
		baseUrl:    baseUrl,
		httpClient: http.DefaultClient,
	}
}

type Quote struct {
	jsonString          string
	estimatedSwapAmount uint64
	useSharedAccounts   bool
}

func (q *Quote) GetEstimatedSwapAmount() uint64 {
	return q.estimatedSwapAmount
}

// GetQuote gets an optimal route for performing a swap
func (c *Client) GetQuote(
	ctx context.Context,
	inputMint string,
	outputMint string,
	quarksToSwap uint64,
	slippageBps uint32,
	forceDirectRoute bool,
	maxAccounts uint8,
	useSharedAccounts bool,
) (*Quote, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetQuote")
	defer tracer.End()

	url := fmt.Sprintf(
		"%s%s?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d&onlyDirectRoutes=%v&maxAccounts=%d&useSharedAccounts=%v",
		c.baseUrl,
		quoteEndpointName,
		inputMint,
		outputMint,
		quarksToSwap,
		slippageBps,
		forceDirectRoute,
		maxAccounts,
		useSharedAccounts,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating http request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "error executing http request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("received http status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed jsonQuote
	err = json.Unmarshal(respBody, &parsed)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json response")
	}

	estimatedSwapAmount, err := strconv.ParseUint(parsed.OtherAmountThreshold, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing estimated swap amount")
	}

	return &Quote{
		jsonString:          string(respBody),
		estimatedSwapAmount: estimatedSwapAmount,
		useSharedAccounts:   useSharedAccounts,
	}, nil
}

type SwapInstructions struct {
	ComputeBudgetInstructions []solana.Instruction
	SetupInstructions         []solana.Instruction
	SwapInstruction           solana.Instruction
	CleanupInstruction        *solana.Instruction

	// Base58 lookup table addresses the composer should resolve to compress
	// the transaction.
	AddressLookupTableAddresses []string
}

// GetSwapInstructions gets the instructions to construct a transaction to sign
// and execute on chain to perform a swap with a given quote
func (c *Client) GetSwapInstructions(
	ctx context.Context,
	quote *Quote,
	owner string,
	destinationTokenAccount string,
) (*SwapInstructions, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetSwapInstructions")
	defer tracer.End()

	reqBody := fmt.Sprintf(
		`{"quoteResponse": %s, "userPublicKey": "%s", "destinationTokenAccount": "%s", "prioritizationFeeLamports": "auto", "useSharedAccounts": %v}`,
		quote.jsonString,
		owner,
		destinationTokenAccount,
		quote.useSharedAccounts,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+swapInstructionsEndpointName, strings.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "error creating http request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "error executing http request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("received http status %d: %s", resp.StatusCode, string(respBody))
	}

	var jsonBody jsonSwapInstructions
	err = json.Unmarshal(respBody, &jsonBody)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json response")
	}

	var res SwapInstructions

	for _, raw := range jsonBody.ComputeBudgetInstructions {
		cbIxn, err := rawixn.Normalize(raw)
		if err != nil {
			return nil, errors.Wrap(err, "error decoding compute budget instruction")
		}
		res.ComputeBudgetInstructions = append(res.ComputeBudgetInstructions, cbIxn)
	}

	for _, raw := range jsonBody.SetupInstructions {
		setupIxn, err := rawixn.Normalize(raw)
		if err != nil {
			return nil, errors.Wrap(err, "error decoding setup instruction")
		}
		res.SetupInstructions = append(res.SetupInstructions, setupIxn)
	}

	if len(jsonBody.SwapInstruction) == 0 {
		return nil, errors.New("swap instruction not provided")
	}

	res.SwapInstruction, err = rawixn.Normalize(jsonBody.SwapInstruction)
	if err != nil {
		return nil, errors.Wrap(err, "error decoding swap instruction")
	}

	if len(jsonBody.CleanupInstruction) > 0 {
		cleanupIxn, err := rawixn.Normalize(jsonBody.CleanupInstruction)
		if err != nil {
			return nil, errors.Wrap(err, "error decoding cleanup instruction")
		}
		res.CleanupInstruction = &cleanupIxn
	}

	res.AddressLookupTableAddresses = jsonBody.AddressLookupTableAddresses

	return &res, nil
}

type jsonQuote struct {
	OtherAmountThreshold string `json:"otherAmountThreshold"`
}

type jsonSwapInstructions struct {
	ComputeBudgetInstructions   []json.RawMessage `json:"computeBudgetInstructions"`
	SetupInstructions           []json.RawMessage `json:"setupInstructions"`
	SwapInstruction             json.RawMessage   `json:"swapInstruction"`
	CleanupInstruction          json.RawMessage   `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
}
