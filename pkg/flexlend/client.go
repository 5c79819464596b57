// Package flexlend provides a client for the FlexLend lending protocol's
// instruction-encoding API.
//
// The API returns opaque JSON instruction descriptions whose schema has
// drifted across protocol versions, so all instruction payloads are parsed
// through the rawixn normalizer rather than a strict schema.
package flexlend

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/stashfi/savings-server/pkg/metrics"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/solana/rawixn"
)

const (
	DefaultApiBaseUrl = "https://api.flexlend.fi/v1/"

	depositEndpointName     = "deposit-instructions"
	withdrawEndpointName    = "withdraw-instructions"
	initAccountEndpointName = "init-account-instructions"
	poolRatesEndpointName   = "pool-rates"

	metricsStructName = "flexlend.client"
)

// ProgramKey is the address of the FlexLend lending program.
//
// Current key: FL3X2pRsQ9zHENpZSKDRREtccwJuei8yg9fwDu9UN69Q
var ProgramKey = ed25519.PublicKey{212, 228, 127, 203, 250, 219, 32, 92, 196, 236, 84, 138, 102, 137, 156, 226, 21, 96, 212, 15, 113, 15, 59, 165, 157, 199, 108, 174, 47, 64, 99, 147}

// MinAccountDataSize is the minimum data length of an initialized lending
// sub-account. Candidate sub-accounts smaller than this are stale or belong
// to another program version.
const MinAccountDataSize = 560

type Client struct {
	baseUrl    string
	httpClient *http.Client
}

// NewClient returns a new FlexLend client
func NewClient(baseUrl string) *Client {
	return &Client{
		baseUrl:    baseUrl,
		httpClient: http.DefaultClient,
	}
}

// InstructionSet is a normalized set of protocol instructions along with the
// lookup tables the composer should resolve.
type InstructionSet struct {
	Instructions                []solana.Instruction
	AddressLookupTableAddresses []string
}

// PoolRates contains the advertised rates for a lending pool.
type PoolRates struct {
	Mint         string  `json:"mint"`
	DepositApyPc float64 `json:"depositApyPc"`
	TotalSupply  string  `json:"totalSupply"`
}

// GetDepositInstructions returns the instructions to deposit into a lending
// sub-account.
func (c *Client) GetDepositInstructions(
	ctx context.Context,
	owner string,
	subAccount string,
	mint string,
	quarks uint64,
) (*InstructionSet, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetDepositInstructions")
	defer tracer.End()

	reqBody := fmt.Sprintf(
		`{"owner": "%s", "subAccount": "%s", "mint": "%s", "amount": %d}`,
		owner,
		subAccount,
		mint,
		quarks,
	)

	return c.getInstructionSet(ctx, depositEndpointName, reqBody)
}

// GetWithdrawInstructions returns the instructions to release funds from a
// lending sub-account back to the owner's token account.
func (c *Client) GetWithdrawInstructions(
	ctx context.Context,
	owner string,
	subAccount string,
	mint string,
	quarks uint64,
) (*InstructionSet, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetWithdrawInstructions")
	defer tracer.End()

	reqBody := fmt.Sprintf(
		`{"owner": "%s", "subAccount": "%s", "mint": "%s", "amount": %d}`,
		owner,
		subAccount,
		mint,
		quarks,
	)

	return c.getInstructionSet(ctx, withdrawEndpointName, reqBody)
}

// GetInitAccountInstructions returns the instructions to initialize a fresh
// lending sub-account for the owner.
func (c *Client) GetInitAccountInstructions(
	ctx context.Context,
	owner string,
	subAccount string,
	mint string,
) (*InstructionSet, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetInitAccountInstructions")
	defer tracer.End()

	reqBody := fmt.Sprintf(
		`{"owner": "%s", "subAccount": "%s", "mint": "%s"}`,
		owner,
		subAccount,
		mint,
	)

	return c.getInstructionSet(ctx, initAccountEndpointName, reqBody)
}

// GetPoolRates returns the advertised rates for the pool backing the mint.
func (c *Client) GetPoolRates(ctx context.Context, mint string) (*PoolRates, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetPoolRates")
	defer tracer.End()

	url := fmt.Sprintf("%s%s?mint=%s", c.baseUrl, poolRatesEndpointName, mint)

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

	var rates PoolRates
	if err := json.Unmarshal(respBody, &rates); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json response")
	}

	return &rates, nil
}

func (c *Client) getInstructionSet(ctx context.Context, endpoint, reqBody string) (*InstructionSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+endpoint, strings.NewReader(reqBody))
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

	var jsonBody jsonInstructionSet
	if err := json.Unmarshal(respBody, &jsonBody); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json response")
	}

	res := &InstructionSet{
		AddressLookupTableAddresses: jsonBody.AddressLookupTableAddresses,
	}

	for i, raw := range jsonBody.Instructions {
		ixn, err := rawixn.Normalize(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "error decoding instruction %d (%s)", i, rawixn.Preview(raw))
		}
		res.Instructions = append(res.Instructions, ixn)
	}

	return res, nil
}

type jsonInstructionSet struct {
	Instructions                []json.RawMessage `json:"instructions"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
}
