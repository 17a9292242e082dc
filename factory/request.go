/*
Package factory provides JSON to Go request conversion.

PURPOSE:
  Converts the loose JSON that customer and back-office clients send into a
  typed ledger.Request, and renders a ledger.Request back into the flat JSON
  shape those clients read. Each kind has its own schema; a field that
  belongs to another kind is rejected instead of silently ignored.

JSON SCHEMA (wire transfer):
  {
    "kind": "wire_transfer",
    "requested_by": "alice",
    "amount": "250.00",
    "fee": "25.00",
    "description": "Invoice 1041",
    "source": "3f0c...",
    "recipient_name": "Acme GmbH",
    "recipient_bank": "Deutsche Bank",
    "routing_or_swift": "DEUTDEFF",
    "recipient_address": "Taunusanlage 12, Frankfurt",
    "transfer_type": "international"
  }

  Amounts may be strings ("250.00") or numbers (250). More than two
  decimal places is a validation error.

KIND FIELDS:
  internal_transfer:  source, destination
  external_transfer:  account, direction, sub_type, bank_name,
                      routing_number, external_account
  wire_transfer:      source, recipient_name, recipient_bank,
                      routing_or_swift, recipient_address, transfer_type
  deposit:            destination, method
  withdrawal:         source, destination_description, method
  balance_adjustment: target, delta, rationale

USAGE:
  f := factory.NewRequestFactory()
  req, err := f.ParseEnvelope(body)
  created, err := engine.CreateRequest(ctx, req)

SEE ALSO:
  - ledger/request.go: Request and its validation
  - api/handlers.go: Uses this factory for POST /api/requests
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/funds-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// EnvelopeJSON holds the fields every kind shares.
type EnvelopeJSON struct {
	Kind        string        `json:"kind"`
	RequestedBy string        `json:"requested_by,omitempty"`
	Amount      ledger.Amount `json:"amount"`
	Fee         ledger.Amount `json:"fee"`
	Currency    string        `json:"currency,omitempty"`
	Status      string        `json:"status,omitempty"`
	Description string        `json:"description,omitempty"`
}

type InternalTransferJSON struct {
	EnvelopeJSON
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type ExternalTransferJSON struct {
	EnvelopeJSON
	Account         string `json:"account"`
	Direction       string `json:"direction"`
	SubType         string `json:"sub_type"`
	BankName        string `json:"bank_name"`
	RoutingNumber   string `json:"routing_number"`
	ExternalAccount string `json:"external_account"`
}

type WireTransferJSON struct {
	EnvelopeJSON
	Source           string `json:"source"`
	RecipientName    string `json:"recipient_name"`
	RecipientBank    string `json:"recipient_bank"`
	RoutingOrSWIFT   string `json:"routing_or_swift"`
	RecipientAddress string `json:"recipient_address"`
	TransferType     string `json:"transfer_type"`
}

type DepositJSON struct {
	EnvelopeJSON
	Destination string `json:"destination"`
	Method      string `json:"method"`
}

type WithdrawalJSON struct {
	EnvelopeJSON
	Source                 string `json:"source"`
	DestinationDescription string `json:"destination_description"`
	Method                 string `json:"method"`
}

type BalanceAdjustmentJSON struct {
	EnvelopeJSON
	Target    string        `json:"target"`
	Delta     ledger.Amount `json:"delta"`
	Rationale string        `json:"rationale"`
}

// RequestJSON is the flat rendering of a stored request. Kind-specific
// fields that do not apply are omitted.
type RequestJSON struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Status          string         `json:"status"`
	RequestedBy     string         `json:"requested_by"`
	Amount          ledger.Amount  `json:"amount"`
	Fee             *ledger.Amount `json:"fee,omitempty"`
	Currency        string         `json:"currency"`
	Description     string         `json:"description,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessedBy     string         `json:"processed_by,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	ReversalOf      string         `json:"reversal_of,omitempty"`

	Source                 string         `json:"source,omitempty"`
	Destination            string         `json:"destination,omitempty"`
	Account                string         `json:"account,omitempty"`
	Direction              string         `json:"direction,omitempty"`
	SubType                string         `json:"sub_type,omitempty"`
	BankName               string         `json:"bank_name,omitempty"`
	RoutingNumber          string         `json:"routing_number,omitempty"`
	ExternalAccount        string         `json:"external_account,omitempty"`
	RecipientName          string         `json:"recipient_name,omitempty"`
	RecipientBank          string         `json:"recipient_bank,omitempty"`
	RoutingOrSWIFT         string         `json:"routing_or_swift,omitempty"`
	RecipientAddress       string         `json:"recipient_address,omitempty"`
	TransferType           string         `json:"transfer_type,omitempty"`
	Method                 string         `json:"method,omitempty"`
	DestinationDescription string         `json:"destination_description,omitempty"`
	Target                 string         `json:"target,omitempty"`
	Delta                  *ledger.Amount `json:"delta,omitempty"`
	Rationale              string         `json:"rationale,omitempty"`
}

// =============================================================================
// REQUEST FACTORY
// =============================================================================

// RequestFactory converts JSON requests to ledger.Request values.
type RequestFactory struct{}

// NewRequestFactory creates a new request factory.
func NewRequestFactory() *RequestFactory {
	return &RequestFactory{}
}

// ParseEnvelope reads the kind from the payload and parses the rest with
// that kind's schema.
func (f *RequestFactory) ParseEnvelope(data []byte) (*ledger.Request, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, decodeError(err)
	}
	if head.Kind == "" {
		return nil, &ledger.ValidationError{Field: "kind", Message: "is required"}
	}
	return f.Parse(ledger.Kind(head.Kind), data)
}

// Parse parses data as a request of the given kind. A "kind" field in the
// payload, if present, must agree.
func (f *RequestFactory) Parse(kind ledger.Kind, data []byte) (*ledger.Request, error) {
	switch kind {
	case ledger.KindInternalTransfer:
		var j InternalTransferJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.Internal = &ledger.InternalTransfer{
				Source:      ledger.AccountID(j.Source),
				Destination: ledger.AccountID(j.Destination),
			}
		})

	case ledger.KindExternalTransfer:
		var j ExternalTransferJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.External = &ledger.ExternalTransfer{
				Account:         ledger.AccountID(j.Account),
				Direction:       ledger.Direction(normalize(j.Direction)),
				SubType:         ledger.ExternalSubType(normalize(j.SubType)),
				BankName:        j.BankName,
				RoutingNumber:   j.RoutingNumber,
				ExternalAccount: j.ExternalAccount,
			}
		})

	case ledger.KindWireTransfer:
		var j WireTransferJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.Wire = &ledger.WireTransfer{
				Source:           ledger.AccountID(j.Source),
				RecipientName:    j.RecipientName,
				RecipientBank:    j.RecipientBank,
				RoutingOrSWIFT:   j.RoutingOrSWIFT,
				RecipientAddress: j.RecipientAddress,
				Type:             ledger.WireType(normalize(j.TransferType)),
			}
		})

	case ledger.KindDeposit:
		var j DepositJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.Deposit = &ledger.Deposit{
				Destination: ledger.AccountID(j.Destination),
				Method:      ledger.Method(normalize(j.Method)),
			}
		})

	case ledger.KindWithdrawal:
		var j WithdrawalJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.Withdrawal = &ledger.Withdrawal{
				Source:                 ledger.AccountID(j.Source),
				DestinationDescription: j.DestinationDescription,
				Method:                 ledger.Method(normalize(j.Method)),
			}
		})

	case ledger.KindBalanceAdjustment:
		var j BalanceAdjustmentJSON
		if err := decodeStrict(data, &j); err != nil {
			return nil, err
		}
		return f.build(kind, j.EnvelopeJSON, func(r *ledger.Request) {
			r.Adjustment = &ledger.BalanceAdjustment{
				Target:    ledger.AccountID(j.Target),
				Delta:     j.Delta,
				Rationale: j.Rationale,
			}
			if r.Amount.IsZero() {
				r.Amount = j.Delta.Abs()
			}
		})
	}
	return nil, &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown request kind %q", kind)}
}

func (f *RequestFactory) build(kind ledger.Kind, env EnvelopeJSON, payload func(*ledger.Request)) (*ledger.Request, error) {
	if env.Kind != "" && ledger.Kind(env.Kind) != kind {
		return nil, &ledger.ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("payload kind %q does not match %q", env.Kind, kind),
		}
	}
	req := &ledger.Request{
		Kind:        kind,
		RequestedBy: ledger.UserID(strings.TrimSpace(env.RequestedBy)),
		Amount:      env.Amount,
		Fee:         env.Fee,
		Currency:    strings.ToUpper(strings.TrimSpace(env.Currency)),
		Description: env.Description,
	}
	if env.Status != "" {
		status, err := ledger.ParseStatus(env.Status)
		if err != nil {
			return nil, err
		}
		req.Status = status
	}
	payload(req)
	return req, nil
}

// ToJSON converts a Request to RequestJSON.
func (f *RequestFactory) ToJSON(req *ledger.Request) RequestJSON {
	rj := RequestJSON{
		ID:              string(req.ID),
		Kind:            string(req.Kind),
		Status:          string(req.Status),
		RequestedBy:     string(req.RequestedBy),
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
		ProcessedAt:     req.ProcessedAt,
		ProcessedBy:     string(req.ProcessedBy),
		Notes:           req.Notes,
		RejectionReason: req.RejectionReason,
		ReversalOf:      string(req.ReversalOf),
	}
	if req.IsWithdrawalClass() {
		fee := req.Fee
		rj.Fee = &fee
	}

	switch {
	case req.Internal != nil:
		rj.Source = string(req.Internal.Source)
		rj.Destination = string(req.Internal.Destination)
	case req.External != nil:
		rj.Account = string(req.External.Account)
		rj.Direction = string(req.External.Direction)
		rj.SubType = string(req.External.SubType)
		rj.BankName = req.External.BankName
		rj.RoutingNumber = req.External.RoutingNumber
		rj.ExternalAccount = req.External.ExternalAccount
	case req.Wire != nil:
		rj.Source = string(req.Wire.Source)
		rj.RecipientName = req.Wire.RecipientName
		rj.RecipientBank = req.Wire.RecipientBank
		rj.RoutingOrSWIFT = req.Wire.RoutingOrSWIFT
		rj.RecipientAddress = req.Wire.RecipientAddress
		rj.TransferType = string(req.Wire.Type)
	case req.Deposit != nil:
		rj.Destination = string(req.Deposit.Destination)
		rj.Method = string(req.Deposit.Method)
	case req.Withdrawal != nil:
		rj.Source = string(req.Withdrawal.Source)
		rj.DestinationDescription = req.Withdrawal.DestinationDescription
		rj.Method = string(req.Withdrawal.Method)
	case req.Adjustment != nil:
		delta := req.Adjustment.Delta
		rj.Target = string(req.Adjustment.Target)
		rj.Delta = &delta
		rj.Rationale = req.Adjustment.Rationale
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	return nil
}

// decodeError turns a json error into a ValidationError naming the field
// when one can be recovered.
func decodeError(err error) error {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ledger.ValidationError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		field := strings.Trim(rest, `"`)
		return &ledger.ValidationError{Field: field, Message: "unknown field for this request kind"}
	}
	if strings.HasPrefix(msg, "invalid amount") {
		return &ledger.ValidationError{Field: "amount", Message: msg}
	}
	return &ledger.ValidationError{Message: "malformed JSON: " + msg}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
