/*
Package ledger provides the funds-movement core: accounts, money-movement
requests, and the engine that approves, rejects and reverses them.

PURPOSE:
  Everything with a money invariant lives here. Persistence, notification
  delivery and HTTP are collaborators behind interfaces (store.go,
  notification.go) so the same engine runs against memory, SQLite or
  PostgreSQL.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: fixed-point currency value, two decimal places, never float
  - Account: balance holder with an active/frozen/closed status
  - Identifiers: type-safe IDs for accounts, users, requests, processors

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal normalized to cents, bounded to int64 cents
  2. Type Safety: an AccountID cannot be passed where a UserID is expected
  3. Atomicity: balances change only through AccountStore.ApplyDelta

USAGE:
  amt := ledger.MustAmount("50.00")
  acct := ledger.Account{ID: ledger.NewAccountID(), Balance: amt}

SEE ALSO:
  - request.go: Request envelope and kind payloads
  - engine.go: Approval engine
  - reversal.go: Refunds
*/
package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Fixed-point currency value
// =============================================================================

// Amount is a currency amount held at cent precision. Every constructor
// normalizes to exponent -2 so equal values have equal representations.
// Arithmetic runs on the decimal and never wraps; stores persist int64
// cents, so values outside [MinAmount, MaxAmount] are refused at every
// entry point (parsing, ApplyDelta).
type Amount struct {
	Value decimal.Decimal
}

var (
	// Zero is the zero amount.
	Zero = NewAmountFromCents(0)

	// MaxAmount and MinAmount bound every amount and balance.
	MaxAmount = NewAmountFromCents(math.MaxInt64)
	MinAmount = NewAmountFromCents(-math.MaxInt64)
)

// NewAmountFromCents builds an amount from integer minor units.
func NewAmountFromCents(cents int64) Amount {
	return Amount{Value: decimal.New(cents, -2)}
}

// ParseAmount parses "12.34", "12.3" or "12". More than two fractional
// digits is rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal, rejecting sub-cent precision and values
// outside the storable range. Failures are *ValidationError on "amount".
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Round(2)) {
		return Amount{}, invalid("amount", "invalid amount %s: more than two decimal places", d.String())
	}
	a := Amount{Value: d.Round(2)}
	if !a.InRange() {
		return Amount{}, rangeError("amount", a)
	}
	return a, nil
}

// MustAmount is ParseAmount for literals; it panics on bad input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// InRange reports whether the amount fits int64 minor units.
func (a Amount) InRange() bool {
	return a.Value.Cmp(MinAmount.Value) >= 0 && a.Value.Cmp(MaxAmount.Value) <= 0
}

// Cents returns the amount in minor units. Only meaningful when InRange;
// persistence goes through CheckedCents.
func (a Amount) Cents() int64 { return a.Value.Shift(2).IntPart() }

// CheckedCents returns the minor units, or a *ValidationError on field
// when the amount does not fit.
func (a Amount) CheckedCents(field string) (int64, error) {
	if !a.InRange() {
		return 0, rangeError(field, a)
	}
	return a.Cents(), nil
}

func rangeError(field string, a Amount) *ValidationError {
	return invalid(field, "amount %s is outside the supported range", a)
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount { return Amount{Value: a.Value.Abs()} }

func (a Amount) IsZero() bool { return a.Value.Sign() == 0 }
func (a Amount) IsPositive() bool { return a.Value.Sign() > 0 }
func (a Amount) IsNegative() bool { return a.Value.Sign() < 0 }
func (a Amount) Equal(b Amount) bool { return a.Value.Cmp(b.Value) == 0 }
func (a Amount) LessThan(b Amount) bool { return a.Value.Cmp(b.Value) < 0 }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Value.Cmp(b.Value) >= 0 }

// String always renders two decimal places.
func (a Amount) String() string { return a.Value.StringFixed(2) }

// MarshalJSON renders the amount as a string to keep precision across clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts "12.34" or 12.34.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = Zero
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type UserID string
type RequestID string

// ProcessorID is the already-authenticated administrator acting on a request.
type ProcessorID string

// NewAccountID returns a random account identifier.
func NewAccountID() AccountID { return AccountID(uuid.NewString()) }

// NewRequestID returns a lexicographically time-ordered request identifier.
func NewRequestID() RequestID { return RequestID(strings.ToLower(ulid.Make().String())) }

// newClaimHolder names one engine call holding a request claim.
func newClaimHolder() string { return "claim-" + strings.ToLower(ulid.Make().String()) }

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountKind string

const (
	AccountChecking AccountKind = "checking"
	AccountSavings  AccountKind = "savings"
	AccountBusiness AccountKind = "business"
)

func (k AccountKind) Valid() bool {
	switch k {
	case AccountChecking, AccountSavings, AccountBusiness:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountFrozen, AccountClosed:
		return true
	}
	return false
}

// Account is a ledger balance holder.
// Balance equals OpeningBalance plus the effect of every completed or
// refunded request naming the account (see Reconciler).
type Account struct {
	ID             AccountID
	OwnerID        UserID
	Kind           AccountKind
	Currency       string
	Balance        Amount
	OpeningBalance Amount
	Status         AccountStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Posting is one signed balance change against one account.
type Posting struct {
	Account AccountID
	Delta   Amount
}
