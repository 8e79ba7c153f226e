package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/mint"
	"github.com/nostrportal/portal/internal/protocol"
	"github.com/nostrportal/portal/internal/relay"
	"github.com/nostrportal/portal/internal/subscription"
	"github.com/nostrportal/portal/internal/wallet"
)

// defaultConversationTimeout bounds every client-initiated request/response
// conversation; no request body carries a deadline of its own, so this value
// is used for all of them.
const defaultConversationTimeout = 2 * time.Minute

// commandHandler dispatches client-facing WebSocket commands (spec.md §4) to
// the conversation runtime, the direct Mint Adapter calls, and the
// ProfileFetch/Nip05Lookup/JWT operations that bypass the conversation
// machinery entirely.
type commandHandler struct {
	runtime  *conversation.Runtime
	registry *subscription.Registry
	keypair  *identity.Keypair
	wallet   wallet.Wallet
	mint     mint.Adapter
	pool     *relay.Pool
}

func newCommandHandler(rt *conversation.Runtime, registry *subscription.Registry, keypair *identity.Keypair, w wallet.Wallet, m mint.Adapter, pool *relay.Pool) *commandHandler {
	return &commandHandler{runtime: rt, registry: registry, keypair: keypair, wallet: w, mint: m, pool: pool}
}

// Handle implements transport.Handler.
func (h *commandHandler) Handle(ctx context.Context, clientID, cmd string, params json.RawMessage) (interface{}, string, error) {
	switch cmd {
	case "auth":
		return h.handleAuth(clientID, params)

	case "key_handshake":
		var req struct {
			PreferredRelays []string `json:"preferred_relays,omitempty"`
			StaticToken     string   `json:"static_token,omitempty"`
			NoRequest       bool     `json:"no_request,omitempty"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid key_handshake params: %w", err)
		}
		token := req.StaticToken
		static := token != ""
		if token == "" {
			t, err := protocol.NewHandshakeToken()
			if err != nil {
				return nil, "", fmt.Errorf("generating handshake token: %w", err)
			}
			token = t
		}
		url := protocol.HandshakeURL{MainKey: h.keypair.PubKey(), Relays: req.PreferredRelays, Token: token}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewKeyHandshake(token, static, req.NoRequest))
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"url": url.String()}, subID, nil

	case "single_payment":
		var req struct {
			Peer identity.PubKey              `json:"peer"`
			Body protocol.SinglePaymentRequestBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid single_payment params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewSinglePayment(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "recurring_payment":
		var req struct {
			Peer identity.PubKey                     `json:"peer"`
			Body protocol.RecurringPaymentRequestBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid recurring_payment params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewRecurringPayment(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "close_recurring_payment":
		var req struct {
			Peer           identity.PubKey `json:"peer"`
			SubscriptionID string          `json:"subscription_id"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid close_recurring_payment params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewCloseRecurringPayment(req.Peer, req.SubscriptionID, defaultConversationTimeout))
		return nil, subID, err

	case "listen_closed_recurring":
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewListenClosedRecurring())
		return nil, subID, err

	case "invoice_request":
		var req struct {
			Peer identity.PubKey                `json:"peer"`
			Body protocol.InvoiceRequestBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid invoice_request params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewInvoiceRequest(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "invoice_pay":
		var req struct {
			Peer identity.PubKey          `json:"peer"`
			Body protocol.InvoicePayBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid invoice_pay params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewInvoicePay(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "cashu_request":
		var req struct {
			Peer identity.PubKey              `json:"peer"`
			Body protocol.CashuRequestBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid cashu_request params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewCashuRequest(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "cashu_direct":
		var req struct {
			Peer identity.PubKey             `json:"peer"`
			Body protocol.CashuDirectBody `json:"request"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid cashu_direct params: %w", err)
		}
		subID, err := h.registry.Spawn(ctx, clientID, protocol.NewSendCashuDirect(req.Peer, req.Body, defaultConversationTimeout))
		return nil, subID, err

	case "mint":
		var req struct {
			AmountSats uint64 `json:"amount_sats"`
			MintURL    string `json:"mint_url"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid mint params: %w", err)
		}
		token, err := h.mint.Mint(ctx, req.AmountSats, req.MintURL)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"token": token}, "", nil

	case "burn":
		var req struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid burn params: %w", err)
		}
		amount, err := h.mint.Burn(ctx, req.Token)
		if err != nil {
			return nil, "", err
		}
		return map[string]uint64{"amount_sats": amount}, "", nil

	case "pay_invoice":
		var req struct {
			Invoice string `json:"invoice"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid pay_invoice params: %w", err)
		}
		preimage, err := h.wallet.PayInvoice(ctx, req.Invoice)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"preimage": preimage}, "", nil

	case "create_invoice":
		var req struct {
			AmountMsats uint64 `json:"amount_msats"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid create_invoice params: %w", err)
		}
		invoice, err := h.wallet.CreateInvoice(ctx, req.AmountMsats, req.Description)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"invoice": invoice}, "", nil

	case "profile_fetch":
		var req struct {
			PubKey identity.PubKey `json:"pubkey"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid profile_fetch params: %w", err)
		}
		profile, err := protocol.FetchProfile(ctx, h.pool, req.PubKey)
		if err != nil {
			return nil, "", err
		}
		return profile, "", nil

	case "nip05_lookup":
		var req struct {
			Identifier string `json:"identifier"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid nip05_lookup params: %w", err)
		}
		pubkey, err := protocol.LookupNip05(ctx, req.Identifier)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"pubkey": pubkey.String()}, "", nil

	case "jwt_issue":
		var req struct {
			Subject        string  `json:"subject"`
			DurationHours float64 `json:"duration_hours"`
			ExpiresAt     json.RawMessage `json:"expires_at,omitempty"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid jwt_issue params: %w", err)
		}
		if len(req.ExpiresAt) != 0 {
			return nil, "", subscription.ErrClientFault{Reason: "invalid jwt_issue params: expires_at is not accepted, use duration_hours"}
		}
		token, err := protocol.IssueJWT(h.keypair, req.Subject, req.DurationHours)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{"token": token}, "", nil

	case "jwt_verify":
		var req struct {
			PubKey identity.PubKey `json:"pubkey"`
			Token  string          `json:"token"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, "", fmt.Errorf("invalid jwt_verify params: %w", err)
		}
		claims, err := protocol.VerifyJWT(req.PubKey, req.Token, time.Now())
		if err != nil {
			return nil, "", err
		}
		return claims, "", nil

	default:
		return nil, "", fmt.Errorf("unknown command %q", cmd)
	}
}

func (h *commandHandler) handleAuth(clientID string, params json.RawMessage) (interface{}, string, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, "", fmt.Errorf("invalid auth params: %w", err)
	}
	if err := h.registry.Authenticate(clientID, req.Token); err != nil {
		return nil, "", err
	}
	return map[string]bool{"authenticated": true}, "", nil
}

