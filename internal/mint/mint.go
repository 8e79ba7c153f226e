// Package mint defines the Cashu Mint Adapter port (spec.md §4.6): Mint
// and Burn are always direct synchronous calls from a conversation or
// command handler into this interface, never conversations themselves,
// because they involve no counterparty round-trip over Nostr.
package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Adapter is the port protocol.MintAdapter implementations satisfy.
type Adapter interface {
	Mint(ctx context.Context, amountSats uint64, mintURL string) (token string, err error)
	Burn(ctx context.Context, token string) (amountSats uint64, err error)
}

// ErrNotConfigured is returned when no mint adapter has been wired in;
// conversations depending on it must fail at entry time, not mid-flight.
var ErrNotConfigured = fmt.Errorf("no mint adapter configured")

// None is the default Adapter: every call fails immediately.
type None struct{}

func (None) Mint(context.Context, uint64, string) (string, error) { return "", ErrNotConfigured }
func (None) Burn(context.Context, string) (uint64, error)         { return 0, ErrNotConfigured }

// HTTP talks to a Cashu mint's REST API directly (the NUT-03/NUT-05
// minting and melting flows, simplified to their essential request/response
// shape for this adapter). defaultMintURL is used for Burn, whose token
// does not itself carry back which mint issued it in this simplified
// model; Mint takes an explicit mint URL per call, taken from the client's
// mint command.
type HTTP struct {
	client         *http.Client
	defaultMintURL string
}

// NewHTTP constructs an HTTP-backed mint adapter that burns against
// defaultMintURL.
func NewHTTP(client *http.Client, defaultMintURL string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, defaultMintURL: defaultMintURL}
}

type mintRequest struct {
	AmountSats uint64 `json:"amount_sats"`
}

type mintResponse struct {
	Token string `json:"token"`
}

func (h *HTTP) Mint(ctx context.Context, amountSats uint64, mintURL string) (string, error) {
	body, err := json.Marshal(mintRequest{AmountSats: amountSats})
	if err != nil {
		return "", fmt.Errorf("encoding mint request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mintURL+"/v1/mint", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling mint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading mint response: %w", err)
	}
	var out mintResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parsing mint response: %w", err)
	}
	return out.Token, nil
}

type burnRequest struct {
	Token string `json:"token"`
}

type burnResponse struct {
	AmountSats uint64 `json:"amount_sats"`
}

func (h *HTTP) Burn(ctx context.Context, token string) (uint64, error) {
	body, err := json.Marshal(burnRequest{Token: token})
	if err != nil {
		return 0, fmt.Errorf("encoding burn request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.defaultMintURL+"/v1/melt", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building burn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling mint burn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("mint burn returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("reading burn response: %w", err)
	}
	var out burnResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("parsing burn response: %w", err)
	}
	return out.AmountSats, nil
}
