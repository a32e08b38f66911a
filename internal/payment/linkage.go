package payment

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Operation names a gateway call.
type Operation string

const (
	OpPurchase  Operation = "purchase"
	OpAuthorize Operation = "authorize"
	OpCapture   Operation = "capture"
	OpRefund    Operation = "refund"
	OpVoid      Operation = "void"
	OpCredit    Operation = "credit"
	OpVerify    Operation = "verify"
	OpStore     Operation = "store"
	OpUnstore   Operation = "unstore"
	OpUpdate    Operation = "update"
)

// Operations lists every operation in declaration order.
var Operations = []Operation{
	OpPurchase, OpAuthorize, OpCapture, OpRefund, OpVoid,
	OpCredit, OpVerify, OpStore, OpUnstore, OpUpdate,
}

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if slices.Contains(Operations, op) {
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// State is the position of a transaction chain in the linkage graph.
type State string

const (
	StateNew        State = "new"
	StateAuthorized State = "authorized"
	StateCaptured   State = "captured"
	StateVoided     State = "voided"
	StateRefunded   State = "refunded"
	StateCredited   State = "credited"
	StateVerified   State = "verified"
	StateStored     State = "stored"
	StateUnstored   State = "unstored"
)

// edges enumerates the legal follow-ups from each state. Whether the vendor
// accepts an edge (void after settlement, say) is decided remotely.
var edges = map[State][]Operation{
	StateNew:        {OpPurchase, OpAuthorize, OpCredit, OpVerify, OpStore},
	StateAuthorized: {OpCapture, OpVoid},
	StateCaptured:   {OpCapture, OpRefund, OpVoid},
	StateRefunded:   {OpRefund, OpVoid},
	StateStored:     {OpPurchase, OpAuthorize, OpUpdate, OpUnstore, OpVerify},
	StateCredited:   {OpVoid},
	StateVoided:     {},
	StateVerified:   {},
	StateUnstored:   {},
}

// Allows reports whether op is a legal edge out of s.
func (s State) Allows(op Operation) bool {
	return slices.Contains(edges[s], op)
}

var results = map[Operation]State{
	OpPurchase:  StateCaptured,
	OpAuthorize: StateAuthorized,
	OpCapture:   StateCaptured,
	OpRefund:    StateRefunded,
	OpVoid:      StateVoided,
	OpCredit:    StateCredited,
	OpVerify:    StateVerified,
	OpStore:     StateStored,
	OpUnstore:   StateUnstored,
	OpUpdate:    StateStored,
}

var ErrIllegalTransition = errors.New("operation not allowed in current state")

// Step is one recorded call in a chain.
type Step struct {
	Operation     Operation `json:"operation"`
	Amount        int64     `json:"amount"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Authorization string    `json:"authorization,omitempty"`
	At            time.Time `json:"at"`
}

// Transaction tracks one chain of dependent calls on the client side.
// Remote outcomes are authoritative: a successful result moves the state,
// a failed one leaves it untouched. Amounts are never clamped.
type Transaction struct {
	mu sync.Mutex

	gateway              string
	state                State
	root                 string
	latest               string
	networkTransactionID string
	authorized           int64
	captured             int64
	refunded             int64
	history              []Step
}

// NewTransaction starts an empty chain for gateway.
func NewTransaction(gateway string) *Transaction {
	return &Transaction{gateway: gateway, state: StateNew}
}

// Allows reports whether op is a legal next call.
func (t *Transaction) Allows(op Operation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Allows(op)
}

// Check returns ErrIllegalTransition when op is not a legal next call.
func (t *Transaction) Check(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Allows(op) {
		return fmt.Errorf("%s from %s: %w", op, t.state, ErrIllegalTransition)
	}
	return nil
}

// Record applies the outcome of op.
func (t *Transaction) Record(op Operation, amount int64, r *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, Step{
		Operation:     op,
		Amount:        amount,
		Success:       r.Success(),
		Message:       r.Message(),
		Authorization: r.Authorization(),
		At:            time.Now(),
	})
	if !r.Success() {
		return
	}

	if auth := r.Authorization(); auth != "" {
		if t.root == "" {
			t.root = auth
		}
		t.latest = auth
	}
	if ntid := r.NetworkTransactionID(); ntid != "" && t.networkTransactionID == "" {
		t.networkTransactionID = ntid
	}

	switch op {
	case OpAuthorize:
		t.authorized = amount
	case OpPurchase:
		t.authorized = amount
		t.captured = amount
	case OpCapture:
		t.captured += amount
	case OpRefund:
		t.refunded += amount
	}
	t.state = results[op]
}

func (t *Transaction) Gateway() string { return t.gateway }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Authorization returns the token for the next dependent call: the most
// recent one issued by the chain.
func (t *Transaction) Authorization() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// RootAuthorization returns the token issued by the first successful call.
func (t *Transaction) RootAuthorization() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// NetworkTransactionID returns the scheme id for merchant-initiated follow-ups.
func (t *Transaction) NetworkTransactionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.networkTransactionID
}

// Capturable is the authorized amount not yet captured. It can be negative.
func (t *Transaction) Capturable() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authorized - t.captured
}

// Refundable is the captured amount not yet refunded. It can be negative.
func (t *Transaction) Refundable() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captured - t.refunded
}

func (t *Transaction) History() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.history...)
}

// VoidPolicy describes how a vendor treats void after capture.
type VoidPolicy string

const (
	VoidAfterCaptureAccepted VoidPolicy = "accepted"
	VoidAfterCaptureRejected VoidPolicy = "rejected"
	VoidAfterCaptureUnknown  VoidPolicy = "unknown"
)

// Capabilities describes which edges and variants a gateway supports.
type Capabilities struct {
	PartialCapture   bool         `json:"partial_capture"`
	MultipleCapture  bool         `json:"multiple_capture"`
	PartialRefund    bool         `json:"partial_refund"`
	RefundCeiling    bool         `json:"refund_ceiling"`
	Credit           bool         `json:"credit"`
	Verify           bool         `json:"verify"`
	Store            bool         `json:"store"`
	Unstore          bool         `json:"unstore"`
	Update           bool         `json:"update"`
	VoidAfterCapture VoidPolicy   `json:"void_after_capture"`
	IdempotentVoid   bool         `json:"idempotent_void"`
	Methods          []MethodKind `json:"methods"`
}

// Supports reports whether op is offered.
func (c Capabilities) Supports(op Operation) bool {
	switch op {
	case OpCredit:
		return c.Credit
	case OpVerify:
		return c.Verify
	case OpStore:
		return c.Store
	case OpUnstore:
		return c.Unstore
	case OpUpdate:
		return c.Update
	}
	return true
}

// Accepts reports whether kind is a supported payment method.
func (c Capabilities) Accepts(kind MethodKind) bool {
	return slices.Contains(c.Methods, kind)
}
