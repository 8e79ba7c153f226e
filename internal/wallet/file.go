package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ledger is the on-disk shape of the file-backed wallet. It is not a real
// Lightning node: it tracks a local balance and a log of invoices it has
// issued or paid, useful for development and integration testing without
// external Lightning infrastructure (spec.md §5.3, supplementing the
// distilled spec with a concrete no-dependency wallet backend).
type ledger struct {
	BalanceMsats uint64             `json:"balance_msats"`
	Invoices     map[string]invoice `json:"invoices"`
}

type invoice struct {
	AmountMsats uint64 `json:"amount_msats"`
	Description string `json:"description"`
	Paid        bool   `json:"paid"`
	Preimage    string `json:"preimage,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// File is a Wallet backed by a JSON ledger file, guarded by an OS file
// lock so multiple processes never race on it (spec.md §4.6).
type File struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
}

// NewFile opens (creating if absent) the ledger at path.
func NewFile(path string) (*File, error) {
	f := &File{path: path, lock: flock.New(path + ".lock")}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := f.write(ledger{Invoices: map[string]invoice{}}); err != nil {
			return nil, fmt.Errorf("initializing wallet ledger: %w", err)
		}
	}
	return f, nil
}

func (f *File) read() (ledger, error) {
	var l ledger
	b, err := os.ReadFile(f.path)
	if err != nil {
		return l, fmt.Errorf("reading wallet ledger: %w", err)
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("parsing wallet ledger: %w", err)
	}
	if l.Invoices == nil {
		l.Invoices = map[string]invoice{}
	}
	return l, nil
}

func (f *File) write(l ledger) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding wallet ledger: %w", err)
	}
	return os.WriteFile(f.path, b, 0o600)
}

func (f *File) withLock(ctx context.Context, fn func(l *ledger) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("locking wallet ledger: %w", err)
	}
	defer f.lock.Unlock()

	l, err := f.read()
	if err != nil {
		return err
	}
	if err := fn(&l); err != nil {
		return err
	}
	return f.write(l)
}

func (f *File) PayInvoice(ctx context.Context, invoiceStr string) (string, error) {
	var preimage string
	err := f.withLock(ctx, func(l *ledger) error {
		inv, ok := l.Invoices[invoiceStr]
		if !ok {
			return fmt.Errorf("unknown invoice")
		}
		if inv.Paid {
			preimage = inv.Preimage
			return nil
		}
		if l.BalanceMsats < inv.AmountMsats {
			return fmt.Errorf("insufficient balance: have %d msats, need %d", l.BalanceMsats, inv.AmountMsats)
		}
		l.BalanceMsats -= inv.AmountMsats
		inv.Paid = true
		inv.Preimage = randomHex(32)
		preimage = inv.Preimage
		l.Invoices[invoiceStr] = inv
		return nil
	})
	if err != nil {
		return "", err
	}
	return preimage, nil
}

func (f *File) CreateInvoice(ctx context.Context, amountMsats uint64, description string) (string, error) {
	invoiceStr := "lnfile" + randomHex(16)
	err := f.withLock(ctx, func(l *ledger) error {
		l.Invoices[invoiceStr] = invoice{
			AmountMsats: amountMsats,
			Description: description,
			CreatedAt:   time.Now().Unix(),
		}
		l.BalanceMsats += amountMsats
		return nil
	})
	if err != nil {
		return "", err
	}
	return invoiceStr, nil
}

func (f *File) Balance(ctx context.Context) (uint64, error) {
	var bal uint64
	err := f.withLock(ctx, func(l *ledger) error {
		bal = l.BalanceMsats
		return nil
	})
	return bal, err
}

func (f *File) Info(ctx context.Context) (Info, error) {
	return Info{Backend: "file", Ready: true}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
