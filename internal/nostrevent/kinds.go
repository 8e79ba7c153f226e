package nostrevent

// Event kinds used by the Portal protocol conversations (spec.md §4.5).
// These are opaque typed payload markers as far as this module is
// concerned — their exact numeric values only need to be stable between
// two Portal-speaking peers, not standardized elsewhere.
const (
	KindKeyHandshake      uint16 = 38001
	KindAuthChallenge     uint16 = 38002
	KindAuthResponse      uint16 = 38003
	KindSinglePayment     uint16 = 38004
	KindRecurringPayment  uint16 = 38005
	KindCloseRecurring    uint16 = 38006
	KindClosedRecurring   uint16 = 38007
	KindInvoiceRequest    uint16 = 38008
	KindInvoicePay        uint16 = 38009
	KindCashuRequest      uint16 = 38010
	KindCashuDirect       uint16 = 38011
	KindProfileMetadata   uint16 = 0
	KindGenericStatus     uint16 = 38012
)
