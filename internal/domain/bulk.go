package domain

// BulkOperation names an action applied uniformly to a batch of tickets.
type BulkOperation string

const (
	BulkAssign   BulkOperation = "assign"
	BulkReassign BulkOperation = "reassign"
	BulkClose    BulkOperation = "close"
	BulkCategory BulkOperation = "category"
	BulkTag      BulkOperation = "tag"
	BulkStatus   BulkOperation = "status"
)

// BulkOperations lists the supported operations.
var BulkOperations = []BulkOperation{BulkAssign, BulkReassign, BulkClose, BulkCategory, BulkTag, BulkStatus}

// ParseBulkOperation resolves an operation name.
func ParseBulkOperation(raw string) (BulkOperation, bool) {
	for _, op := range BulkOperations {
		if string(op) == raw {
			return op, true
		}
	}
	return "", false
}

// MaxBulkItems bounds the number of tickets in one bulk request.
const MaxBulkItems = 50

// BulkParams carries the operation-specific payload. Only the fields the
// operation reads are meaningful.
type BulkParams struct {
	ContractorID   string       `json:"contractorId,omitempty"`
	Category       string       `json:"category,omitempty"`
	AddTags        []string     `json:"addTags,omitempty"`
	RemoveTags     []string     `json:"removeTags,omitempty"`
	Status         TicketStatus `json:"status,omitempty"`
	ResolutionNote string       `json:"resolutionNote,omitempty"`
}

// BulkItemErrorCode classifies why a single item in a batch failed.
type BulkItemErrorCode string

const (
	BulkErrNotFound     BulkItemErrorCode = "NOT_FOUND"
	BulkErrInvalidState BulkItemErrorCode = "INVALID_STATE"
	BulkErrForbidden    BulkItemErrorCode = "FORBIDDEN"
	BulkErrValidation   BulkItemErrorCode = "VALIDATION"
	BulkErrConflict     BulkItemErrorCode = "CONFLICT"
)

// BulkItemFailure records a failed ticket id.
type BulkItemFailure struct {
	ID    string            `json:"id"`
	Error BulkItemErrorCode `json:"error"`
}

// BulkResult partitions the requested ids into successes and failures, each in
// input order.
type BulkResult struct {
	OK     []string          `json:"ok"`
	Failed []BulkItemFailure `json:"failed"`
}

// NewBulkResult returns an empty result with non-nil slices so it always
// serializes as {"ok":[],"failed":[]}.
func NewBulkResult(capacity int) BulkResult {
	return BulkResult{
		OK:     make([]string, 0, capacity),
		Failed: make([]BulkItemFailure, 0),
	}
}

// HasFailures reports whether any item failed.
func (r BulkResult) HasFailures() bool {
	return len(r.Failed) > 0
}
