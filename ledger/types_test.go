package ledger_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"12.3", "12.30", false},
		{"12", "12.00", false},
		{" -0.01 ", "-0.01", false},
		{"0.10", "0.10", false},
		{"1.234", "", true},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ledger.ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAmount_ExactArithmetic(t *testing.T) {
	// 0.1 + 0.2 is the classic float trap.
	sum := ledger.MustAmount("0.10").Add(ledger.MustAmount("0.20"))
	assert.Equal(t, "0.30", sum.String())
	assert.True(t, sum.Equal(ledger.MustAmount("0.3")))

	total := ledger.Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(ledger.MustAmount("0.01"))
	}
	assert.Equal(t, "10.00", total.String())
	assert.Equal(t, int64(1000), total.Cents())

	assert.Equal(t, "-5.00", ledger.MustAmount("5").Neg().String())
	assert.Equal(t, "5.00", ledger.MustAmount("-5").Abs().String())
	assert.True(t, ledger.MustAmount("1.00").LessThan(ledger.MustAmount("1.01")))
	assert.True(t, ledger.MustAmount("1.00").GreaterThanOrEqual(ledger.MustAmount("1")))
}

func TestFromDecimal(t *testing.T) {
	a, err := ledger.FromDecimal(decimal.RequireFromString("99.9"))
	require.NoError(t, err)
	assert.Equal(t, int64(9990), a.Cents())

	_, err = ledger.FromDecimal(decimal.RequireFromString("0.005"))
	assert.Error(t, err)
}

func TestParseAmount_OutOfRange(t *testing.T) {
	// GIVEN: Values that do not fit int64 cents
	// WHEN: Parsing them
	// THEN: Each is a validation error on "amount", never a wrapped value

	for _, in := range []string{
		"184467440737095516.17",
		"92233720368547758.08",
		"-92233720368547758.08",
		"1e30",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ledger.ParseAmount(in)

			require.ErrorIs(t, err, ledger.ErrValidation)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "amount", verr.Field)
		})
	}

	largest, err := ledger.ParseAmount("92233720368547758.07")
	require.NoError(t, err)
	assert.True(t, largest.Equal(ledger.MaxAmount))
	assert.Equal(t, int64(math.MaxInt64), largest.Cents())
}

func TestAmount_ArithmeticDoesNotWrap(t *testing.T) {
	// GIVEN: The largest storable amount
	// WHEN: A cent is added
	// THEN: The sum is exact and reported out of range instead of negative

	sum := ledger.MaxAmount.Add(ledger.MustAmount("0.01"))
	assert.Equal(t, "92233720368547758.08", sum.String())
	assert.True(t, sum.IsPositive())
	assert.False(t, sum.InRange())

	_, err := sum.CheckedCents("balance")
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "balance", verr.Field)

	diff := ledger.MinAmount.Sub(ledger.MustAmount("0.01"))
	assert.True(t, diff.IsNegative())
	assert.False(t, diff.InRange())
	assert.True(t, ledger.MinAmount.Neg().Equal(ledger.MaxAmount))
}

func TestAmount_JSON(t *testing.T) {
	var v struct {
		A ledger.Amount `json:"a"`
		B ledger.Amount `json:"b"`
		C ledger.Amount `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"10.5","b":7.25,"c":null}`), &v))
	assert.Equal(t, "10.50", v.A.String())
	assert.Equal(t, "7.25", v.B.String())
	assert.True(t, v.C.IsZero())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"10.50","b":"7.25","c":"0.00"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"1.001"}`), &v))
}

func TestIdentifiers(t *testing.T) {
	a, b := ledger.NewRequestID(), ledger.NewRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 26)
	assert.Len(t, string(ledger.NewAccountID()), 36)
}

func TestAccountEnums(t *testing.T) {
	assert.True(t, ledger.AccountSavings.Valid())
	assert.False(t, ledger.AccountKind("brokerage").Valid())
	assert.True(t, ledger.AccountFrozen.Valid())
	assert.False(t, ledger.AccountStatus("dormant").Valid())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&ledger.ValidationError{Field: "amount", Message: "must be positive"}, "validation"},
		{&ledger.NotFoundError{Entity: "request", ID: "x"}, "not_found"},
		{&ledger.InvalidStateError{RequestID: "x", Status: ledger.StatusCompleted, Action: "approve"}, "invalid_state"},
		{&ledger.ConflictError{RequestID: "x", Expected: ledger.StatusPending, Actual: ledger.StatusCompleted}, "conflict"},
		{&ledger.InsufficientFundsError{AccountID: "a"}, "insufficient_funds"},
		{&ledger.AccountFrozenError{AccountID: "a"}, "account_frozen"},
		{&ledger.AccountClosedError{AccountID: "a"}, "account_closed"},
		{ledger.ErrDuplicate, "duplicate"},
		{fmt.Errorf("wrapped: %w", &ledger.ConflictError{RequestID: "x"}), "conflict"},
		{errors.New("disk full"), "internal"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ledger.Code(tt.err), "%v", tt.err)
	}
}

func TestErrorClassifiers(t *testing.T) {
	conflict := &ledger.ConflictError{RequestID: "x"}
	assert.True(t, ledger.IsRetryable(conflict))
	assert.False(t, ledger.IsClientError(conflict))

	assert.True(t, ledger.IsClientError(&ledger.ValidationError{Field: "f"}))
	assert.True(t, ledger.IsClientError(&ledger.InvalidStateError{RequestID: "x"}))
	assert.True(t, ledger.IsNotFound(&ledger.NotFoundError{Entity: "account", ID: "a"}))
	assert.True(t, ledger.IsAccountStateError(&ledger.AccountFrozenError{AccountID: "a"}))
	assert.True(t, ledger.IsAccountStateError(&ledger.InsufficientFundsError{AccountID: "a"}))
}

func TestCompensationError_MatchesBothCauses(t *testing.T) {
	cause := &ledger.AccountFrozenError{AccountID: "b"}
	undo := errors.New("timeout")
	err := error(&ledger.CompensationError{Op: "approve", Cause: cause, CompensationErr: undo})

	assert.ErrorIs(t, err, ledger.ErrCompensationFailed)
	assert.ErrorIs(t, err, ledger.ErrAccountFrozen)
	assert.ErrorIs(t, err, undo)
	assert.Equal(t, "compensation_failed", ledger.Code(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, ledger.UserMessage(&ledger.InsufficientFundsError{AccountID: "a"}), "insufficient funds")
	assert.Contains(t, ledger.UserMessage(&ledger.ConflictError{RequestID: "x"}), "refresh")
	assert.Equal(t, "validation failed: amount: must be positive",
		ledger.UserMessage(&ledger.ValidationError{Field: "amount", Message: "must be positive"}))
	assert.Equal(t, "internal error", ledger.UserMessage(errors.New("boom")))
}
