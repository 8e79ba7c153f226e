// Package wallet defines the port the server's wallet commands call into to
// actually move money, and the backends that implement it (spec.md §4.6
// Wallet adapter). The port is intentionally narrow: callers know nothing
// about Lightning or NWC, only this interface.
package wallet

import (
	"context"
	"fmt"
)

// Info describes the wallet backend currently configured, surfaced to
// clients via the Info operation.
type Info struct {
	Backend string `json:"backend"`
	Ready   bool   `json:"ready"`
}

// Wallet is the port the command handler calls for wallet operations. A
// None-backed Wallet fails PayInvoice, CreateInvoice and Balance at once
// with ErrNotConfigured (spec.md §4.6).
type Wallet interface {
	PayInvoice(ctx context.Context, invoice string) (preimage string, err error)
	CreateInvoice(ctx context.Context, amountMsats uint64, description string) (invoice string, err error)
	Balance(ctx context.Context) (msats uint64, err error)
	Info(ctx context.Context) (Info, error)
}

// ErrNotConfigured is returned by every method of None, and should be
// checked for at conversation entry time so the client gets a typed
// rejection instead of a mid-flight failure.
var ErrNotConfigured = fmt.Errorf("no wallet backend configured")

// None is the default Wallet: every operation fails immediately.
type None struct{}

func (None) PayInvoice(context.Context, string) (string, error) { return "", ErrNotConfigured }
func (None) CreateInvoice(context.Context, uint64, string) (string, error) {
	return "", ErrNotConfigured
}
func (None) Balance(context.Context) (uint64, error) { return 0, ErrNotConfigured }
func (None) Info(context.Context) (Info, error)      { return Info{Backend: "none", Ready: false}, nil }
