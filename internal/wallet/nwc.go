package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/relay"
)

// nwcKind is this module's event kind for wallet-service requests and
// responses. A real NIP-47 deployment exchanges NIP-04-encrypted kind
// 23194/23195 events; this module reuses its own envelope encryption and
// event kinds instead of implementing NIP-04 separately, since the
// request/response shape NIP-47 describes is otherwise identical to every
// other conversation this server already speaks (spec.md §4.6, extending
// the wallet port to a remote Nostr Wallet Connect-style service).
const nwcKind uint16 = 38013

// NWC is a Wallet backed by a remote Nostr Wallet Connect-compatible
// service, reached over the same relay pool used for the protocol itself.
type NWC struct {
	pool        *relay.Pool
	keypair     *identity.Keypair
	serviceKey  identity.PubKey
	callTimeout time.Duration
}

// NewNWC constructs an NWC-backed wallet that sends requests to
// serviceKey over pool, signing as keypair.
func NewNWC(pool *relay.Pool, keypair *identity.Keypair, serviceKey identity.PubKey) *NWC {
	return &NWC{pool: pool, keypair: keypair, serviceKey: serviceKey, callTimeout: 20 * time.Second}
}

type nwcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type nwcResponse struct {
	ResultType string          `json:"result_type"`
	Error      *nwcError       `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type nwcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (n *NWC) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding nwc params: %w", err)
	}

	env, err := envelope.New(envelope.Subkind("nwc_"+method), "", nwcRequest{Method: method, Params: paramsJSON})
	if err != nil {
		return fmt.Errorf("building nwc envelope: %w", err)
	}
	ev, err := envelope.BuildEvent(n.keypair, n.serviceKey, nwcKind, env)
	if err != nil {
		return fmt.Errorf("building nwc event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()

	if err := n.pool.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publishing nwc request: %w", err)
	}

	stream := n.pool.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("nwc call to %s timed out", method)
		case inbound := <-stream:
			if inbound.Kind != nwcKind || inbound.Author != n.serviceKey {
				continue
			}
			respEnv, err := envelope.Open(n.keypair, n.serviceKey, inbound.Content)
			if err != nil {
				continue
			}
			var resp nwcResponse
			if err := respEnv.DecodeBody(&resp); err != nil {
				continue
			}
			if resp.Error != nil {
				return fmt.Errorf("nwc error %s: %s", resp.Error.Code, resp.Error.Message)
			}
			if result != nil {
				return json.Unmarshal(resp.Result, result)
			}
			return nil
		}
	}
}

func (n *NWC) PayInvoice(ctx context.Context, invoiceStr string) (string, error) {
	var result struct {
		Preimage string `json:"preimage"`
	}
	err := n.call(ctx, "pay_invoice", map[string]string{"invoice": invoiceStr}, &result)
	return result.Preimage, err
}

func (n *NWC) CreateInvoice(ctx context.Context, amountMsats uint64, description string) (string, error) {
	var result struct {
		Invoice string `json:"invoice"`
	}
	err := n.call(ctx, "make_invoice", map[string]interface{}{
		"amount":      amountMsats,
		"description": description,
	}, &result)
	return result.Invoice, err
}

func (n *NWC) Balance(ctx context.Context) (uint64, error) {
	var result struct {
		Balance uint64 `json:"balance"`
	}
	err := n.call(ctx, "get_balance", map[string]string{}, &result)
	return result.Balance, err
}

func (n *NWC) Info(ctx context.Context) (Info, error) {
	return Info{Backend: "nwc", Ready: true}, nil
}
