package protocol

import "fmt"

var (
	errUserRejected      = fmt.Errorf("peer rejected the payment")
	errUserFailed        = fmt.Errorf("peer's payment attempt failed")
	errClosedByPeer      = fmt.Errorf("recurring payment closed by peer")
	errMintUnavailable   = fmt.Errorf("mint adapter not configured")
	errWalletUnavailable = fmt.Errorf("wallet adapter not configured")
	errAuthDeclined      = fmt.Errorf("peer declined the auth challenge")
	errInsufficientFunds = fmt.Errorf("peer has insufficient funds")
	errCashuRejected     = fmt.Errorf("peer rejected the cashu request")
)

// withReason wraps a sentinel error with a peer-supplied reason string, if
// any, so errors.Is still matches the sentinel while the message carries
// the detail the peer actually sent.
func withReason(sentinel error, reason string) error {
	if reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, reason)
}
