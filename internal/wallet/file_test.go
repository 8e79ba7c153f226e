package wallet

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return f
}

func TestFileCreateAndPayInvoice(t *testing.T) {
	ctx := context.Background()
	f := newTestFile(t)

	invoice, err := f.CreateInvoice(ctx, 1000, "coffee")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	bal, err := f.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 1000 {
		t.Fatalf("balance after create = %d, want 1000", bal)
	}

	preimage, err := f.PayInvoice(ctx, invoice)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if preimage == "" {
		t.Fatal("expected a non-empty preimage")
	}

	bal, err = f.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 0 {
		t.Fatalf("balance after pay = %d, want 0", bal)
	}

	// Paying again returns the same preimage rather than deducting twice.
	second, err := f.PayInvoice(ctx, invoice)
	if err != nil {
		t.Fatalf("PayInvoice (second): %v", err)
	}
	if second != preimage {
		t.Fatalf("second preimage = %q, want %q", second, preimage)
	}
}

func TestFilePayUnknownInvoiceFails(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.PayInvoice(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error paying an unknown invoice")
	}
}

func TestFileInfo(t *testing.T) {
	f := newTestFile(t)
	info, err := f.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Backend != "file" || !info.Ready {
		t.Fatalf("unexpected info: %+v", info)
	}
}
