/*
request.go - Money-movement requests and their lifecycle

PURPOSE:
  A Request is a closed tagged variant: one shared envelope plus exactly
  one kind-specific payload. Kind-specific fields live only on their
  payload, so "optional field that is required for this kind" cannot
  happen.

REQUEST LIFECYCLE:
  pending --approve--> completed
  pending --reject---> rejected
  completed --refund (internal transfers only)--> refunded

  "pending_approval" is accepted on input and normalized to pending.

LEDGER EFFECTS (Request.Postings):
  Deposit, ACH inbound:          +amount to destination
  Withdrawal, Wire, ACH outbound: -(amount+fee) from source
  Internal transfer:              -amount source, +amount destination
  Balance adjustment:             +delta (signed) to target
  Refund record (ReversalOf set): +amount to its destination only

SEE ALSO:
  - engine.go: Applies Postings at the pending -> completed transition
  - reversal.go: Creates refund records
  - factory/request.go: JSON to Request
*/
package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// KIND & STATUS
// =============================================================================

type Kind string

const (
	KindInternalTransfer  Kind = "internal_transfer"
	KindExternalTransfer  Kind = "external_transfer"
	KindWireTransfer      Kind = "wire_transfer"
	KindDeposit           Kind = "deposit"
	KindWithdrawal        Kind = "withdrawal"
	KindBalanceAdjustment Kind = "balance_adjustment"
)

// Kinds lists every request kind in a stable order.
var Kinds = []Kind{
	KindInternalTransfer,
	KindExternalTransfer,
	KindWireTransfer,
	KindDeposit,
	KindWithdrawal,
	KindBalanceAdjustment,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label is the human-readable kind used in notifications.
func (k Kind) Label() string {
	switch k {
	case KindInternalTransfer:
		return "transfer"
	case KindExternalTransfer:
		return "external transfer"
	case KindWireTransfer:
		return "wire transfer"
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindBalanceAdjustment:
		return "balance adjustment"
	}
	return string(k)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusRefunded  Status = "refunded"

	// StatusPendingApproval is an input alias; it is never stored.
	StatusPendingApproval Status = "pending_approval"
)

// ParseStatus normalizes a status string, folding pending_approval into pending.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPendingApproval:
		return StatusPending, nil
	case StatusCompleted, StatusRejected, StatusRefunded:
		return st, nil
	}
	return "", invalid("status", "unknown status %q", s)
}

func (s Status) IsPending() bool  { return s == StatusPending || s == StatusPendingApproval }
func (s Status) IsTerminal() bool { return s == StatusRejected || s == StatusRefunded }

// =============================================================================
// KIND-SPECIFIC PAYLOADS
// =============================================================================

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type ExternalSubType string

const (
	SubTypeACH        ExternalSubType = "ach"
	SubTypeSameDayACH ExternalSubType = "same_day_ach"
	SubTypeRTP        ExternalSubType = "rtp"
)

type WireType string

const (
	WireDomestic      WireType = "domestic"
	WireInternational WireType = "international"
)

// Method is how funds enter or leave the bank.
type Method string

const (
	MethodCard   Method = "card"
	MethodBank   Method = "bank"
	MethodCrypto Method = "crypto"
	MethodCheck  Method = "check"
	MethodCash   Method = "cash"
)

var (
	depositMethods    = []Method{MethodCard, MethodBank, MethodCrypto, MethodCheck}
	withdrawalMethods = []Method{MethodBank, MethodCheck, MethodCash, MethodCrypto}
)

type InternalTransfer struct {
	Source      AccountID
	Destination AccountID
}

type ExternalTransfer struct {
	Account         AccountID
	Direction       Direction
	SubType         ExternalSubType
	BankName        string
	RoutingNumber   string
	ExternalAccount string
}

type WireTransfer struct {
	Source           AccountID
	RecipientName    string
	RecipientBank    string
	RoutingOrSWIFT   string
	RecipientAddress string
	Type             WireType
}

type Deposit struct {
	Destination AccountID
	Method      Method
}

type Withdrawal struct {
	Source                 AccountID
	DestinationDescription string
	Method                 Method
}

// BalanceAdjustment is an administrator correction. Delta is signed.
type BalanceAdjustment struct {
	Target    AccountID
	Delta     Amount
	Rationale string
}

// =============================================================================
// REQUEST ENVELOPE
// =============================================================================

// Request is one money-movement request. Exactly one payload pointer,
// the one matching Kind, is non-nil.
type Request struct {
	ID          RequestID
	Kind        Kind
	RequestedBy UserID
	Amount      Amount
	Fee         Amount
	Currency    string
	Status      Status
	Description string

	// Audit trail
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
	ProcessedBy     ProcessorID
	Notes           string
	RejectionReason string
	ReversalOf      RequestID // set only on refund records

	Internal   *InternalTransfer
	External   *ExternalTransfer
	Wire       *WireTransfer
	Deposit    *Deposit
	Withdrawal *Withdrawal
	Adjustment *BalanceAdjustment
}

// Clone returns a deep copy so stores never share payloads with callers.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	if r.Internal != nil {
		p := *r.Internal
		c.Internal = &p
	}
	if r.External != nil {
		p := *r.External
		c.External = &p
	}
	if r.Wire != nil {
		p := *r.Wire
		c.Wire = &p
	}
	if r.Deposit != nil {
		p := *r.Deposit
		c.Deposit = &p
	}
	if r.Withdrawal != nil {
		p := *r.Withdrawal
		c.Withdrawal = &p
	}
	if r.Adjustment != nil {
		p := *r.Adjustment
		c.Adjustment = &p
	}
	return &c
}

// IsWithdrawalClass reports whether approval debits amount+fee from a
// source and therefore requires sufficient funds.
func (r *Request) IsWithdrawalClass() bool {
	switch r.Kind {
	case KindWithdrawal, KindWireTransfer:
		return true
	case KindExternalTransfer:
		return r.External != nil && r.External.Direction == Outbound
	}
	return false
}

// IsRefund reports whether this request is a refund record.
func (r *Request) IsRefund() bool { return r.ReversalOf != "" }

// Debit is the total leaving the source on a withdrawal-class request.
func (r *Request) Debit() Amount { return r.Amount.Add(r.Fee) }

// Postings returns the ledger effect of completing this request, in the
// order the engine applies them.
func (r *Request) Postings() []Posting {
	switch r.Kind {
	case KindInternalTransfer:
		if r.Internal == nil {
			return nil
		}
		if r.IsRefund() {
			// The original transfer's destination keeps its funds.
			return []Posting{{Account: r.Internal.Destination, Delta: r.Amount}}
		}
		return []Posting{
			{Account: r.Internal.Source, Delta: r.Amount.Neg()},
			{Account: r.Internal.Destination, Delta: r.Amount},
		}
	case KindExternalTransfer:
		if r.External == nil {
			return nil
		}
		if r.External.Direction == Outbound {
			return []Posting{{Account: r.External.Account, Delta: r.Debit().Neg()}}
		}
		return []Posting{{Account: r.External.Account, Delta: r.Amount}}
	case KindWireTransfer:
		if r.Wire == nil {
			return nil
		}
		return []Posting{{Account: r.Wire.Source, Delta: r.Debit().Neg()}}
	case KindDeposit:
		if r.Deposit == nil {
			return nil
		}
		return []Posting{{Account: r.Deposit.Destination, Delta: r.Amount}}
	case KindWithdrawal:
		if r.Withdrawal == nil {
			return nil
		}
		return []Posting{{Account: r.Withdrawal.Source, Delta: r.Debit().Neg()}}
	case KindBalanceAdjustment:
		if r.Adjustment == nil {
			return nil
		}
		return []Posting{{Account: r.Adjustment.Target, Delta: r.Adjustment.Delta}}
	}
	return nil
}

// Accounts returns every ledger account the request names.
func (r *Request) Accounts() []AccountID {
	switch r.Kind {
	case KindInternalTransfer:
		if r.Internal != nil {
			return []AccountID{r.Internal.Source, r.Internal.Destination}
		}
	case KindExternalTransfer:
		if r.External != nil {
			return []AccountID{r.External.Account}
		}
	case KindWireTransfer:
		if r.Wire != nil {
			return []AccountID{r.Wire.Source}
		}
	case KindDeposit:
		if r.Deposit != nil {
			return []AccountID{r.Deposit.Destination}
		}
	case KindWithdrawal:
		if r.Withdrawal != nil {
			return []AccountID{r.Withdrawal.Source}
		}
	case KindBalanceAdjustment:
		if r.Adjustment != nil {
			return []AccountID{r.Adjustment.Target}
		}
	}
	return nil
}

// Names reports whether the request touches the given account.
func (r *Request) Names(id AccountID) bool {
	for _, a := range r.Accounts() {
		if a == id {
			return true
		}
	}
	return false
}

// SearchText is the text matched by free-text search.
func (r *Request) SearchText() string {
	parts := []string{string(r.ID), string(r.RequestedBy), r.Description, r.Notes, r.RejectionReason}
	for _, a := range r.Accounts() {
		parts = append(parts, string(a))
	}
	switch {
	case r.External != nil:
		parts = append(parts, r.External.BankName, r.External.ExternalAccount)
	case r.Wire != nil:
		parts = append(parts, r.Wire.RecipientName, r.Wire.RecipientBank)
	case r.Withdrawal != nil:
		parts = append(parts, r.Withdrawal.DestinationDescription)
	case r.Adjustment != nil:
		parts = append(parts, r.Adjustment.Rationale)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the envelope and the payload for the request's kind.
func (r *Request) Validate() error {
	if !r.Kind.Valid() {
		return invalid("kind", "unknown request kind %q", r.Kind)
	}
	if err := r.validatePayloadShape(); err != nil {
		return err
	}
	if r.RequestedBy == "" {
		return invalid("requested_by", "is required")
	}
	if !r.Amount.IsPositive() {
		return invalid("amount", "must be positive, got %s", r.Amount)
	}
	if r.Fee.IsNegative() {
		return invalid("fee", "must not be negative")
	}
	if r.Fee.IsPositive() && !r.IsWithdrawalClass() {
		return invalid("fee", "not applicable to %s", r.Kind.Label())
	}
	if !r.Debit().InRange() {
		return rangeError("amount", r.Debit())
	}

	switch r.Kind {
	case KindInternalTransfer:
		p := r.Internal
		if p.Source == "" {
			return invalid("source", "is required")
		}
		if p.Destination == "" {
			return invalid("destination", "is required")
		}
		if p.Source == p.Destination {
			return invalid("destination", "must differ from source")
		}
	case KindExternalTransfer:
		p := r.External
		if p.Account == "" {
			return invalid("account", "is required")
		}
		if p.Direction != Inbound && p.Direction != Outbound {
			return invalid("direction", "must be inbound or outbound")
		}
		switch p.SubType {
		case SubTypeACH, SubTypeSameDayACH, SubTypeRTP:
		default:
			return invalid("sub_type", "unknown sub-type %q", p.SubType)
		}
		if strings.TrimSpace(p.BankName) == "" {
			return invalid("bank_name", "is required")
		}
		if strings.TrimSpace(p.RoutingNumber) == "" {
			return invalid("routing_number", "is required")
		}
		if strings.TrimSpace(p.ExternalAccount) == "" {
			return invalid("external_account", "is required")
		}
	case KindWireTransfer:
		p := r.Wire
		if p.Source == "" {
			return invalid("source", "is required")
		}
		if strings.TrimSpace(p.RecipientName) == "" {
			return invalid("recipient_name", "is required")
		}
		if strings.TrimSpace(p.RecipientBank) == "" {
			return invalid("recipient_bank", "is required")
		}
		if strings.TrimSpace(p.RoutingOrSWIFT) == "" {
			return invalid("routing_or_swift", "is required")
		}
		switch p.Type {
		case WireDomestic:
		case WireInternational:
			if strings.TrimSpace(p.RecipientAddress) == "" {
				return invalid("recipient_address", "is required for international wires")
			}
		default:
			return invalid("transfer_type", "must be domestic or international")
		}
	case KindDeposit:
		p := r.Deposit
		if p.Destination == "" {
			return invalid("destination", "is required")
		}
		if !oneOf(p.Method, depositMethods) {
			return invalid("method", "unsupported deposit method %q", p.Method)
		}
	case KindWithdrawal:
		p := r.Withdrawal
		if p.Source == "" {
			return invalid("source", "is required")
		}
		if strings.TrimSpace(p.DestinationDescription) == "" {
			return invalid("destination_description", "is required")
		}
		if !oneOf(p.Method, withdrawalMethods) {
			return invalid("method", "unsupported withdrawal method %q", p.Method)
		}
	case KindBalanceAdjustment:
		p := r.Adjustment
		if p.Target == "" {
			return invalid("target", "is required")
		}
		if p.Delta.IsZero() {
			return invalid("delta", "must be non-zero")
		}
		if !p.Delta.Abs().Equal(r.Amount) {
			return invalid("amount", "must equal the absolute adjustment delta")
		}
		if strings.TrimSpace(p.Rationale) == "" {
			return invalid("rationale", "is required")
		}
	}
	return nil
}

func (r *Request) validatePayloadShape() error {
	set := 0
	for _, present := range []bool{
		r.Internal != nil, r.External != nil, r.Wire != nil,
		r.Deposit != nil, r.Withdrawal != nil, r.Adjustment != nil,
	} {
		if present {
			set++
		}
	}
	var matches bool
	switch r.Kind {
	case KindInternalTransfer:
		matches = r.Internal != nil
	case KindExternalTransfer:
		matches = r.External != nil
	case KindWireTransfer:
		matches = r.Wire != nil
	case KindDeposit:
		matches = r.Deposit != nil
	case KindWithdrawal:
		matches = r.Withdrawal != nil
	case KindBalanceAdjustment:
		matches = r.Adjustment != nil
	}
	if set != 1 || !matches {
		return invalid("kind", "request must carry exactly one %s payload", r.Kind.Label())
	}
	return nil
}

func oneOf(m Method, allowed []Method) bool {
	for _, a := range allowed {
		if m == a {
			return true
		}
	}
	return false
}

// =============================================================================
// LISTING
// =============================================================================

// RequestFilter selects requests for List. Zero values match everything.
type RequestFilter struct {
	Kinds       []Kind
	Statuses    []Status
	Account     AccountID
	RequestedBy UserID
	Search      string
	Limit       int
	Offset      int
}

// Matches applies every predicate except Limit/Offset.
func (f RequestFilter) Matches(r *Request) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, r.Kind) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
		return false
	}
	if f.Account != "" && !r.Names(f.Account) {
		return false
	}
	if f.RequestedBy != "" && r.RequestedBy != f.RequestedBy {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !strings.Contains(r.SearchText(), q) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func (f RequestFilter) Page(reqs []Request) []Request {
	if f.Offset > 0 {
		if f.Offset >= len(reqs) {
			return []Request{}
		}
		reqs = reqs[f.Offset:]
	}
	if f.Limit > 0 && len(reqs) > f.Limit {
		reqs = reqs[:f.Limit]
	}
	return reqs
}

// NewestFirst orders by creation time descending, id descending on ties.
func NewestFirst(a, b *Request) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return -strings.Compare(string(a.ID), string(b.ID))
}

func containsKind(ks []Kind, k Kind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
