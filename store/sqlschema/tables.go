/*
Package sqlschema describes the six request tables shared by the SQL
backends.

PURPOSE:
  Each request kind has its own table: the envelope columns, which every
  backend declares itself since timestamp types differ, plus the
  kind-specific columns described here. Keeping the kind columns in one
  place means SQLite and PostgreSQL agree on names and encodings.

ENCODING:
  Text  - TEXT NOT NULL DEFAULT ''
  Cents - integer minor units (INTEGER in SQLite, BIGINT in PostgreSQL)

SEE ALSO:
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
*/
package sqlschema

import (
	"fmt"
	"strings"

	"github.com/warp/funds-engine/ledger"
)

type ColumnType int

const (
	Text ColumnType = iota
	Cents
)

type Column struct {
	Name string
	Type ColumnType
}

// Table maps one request kind to its table and kind-specific columns.
type Table struct {
	Kind    ledger.Kind
	Name    string
	Columns []Column

	values func(r *ledger.Request) []any
	scan   func() ([]any, func(r *ledger.Request))
}

// Values returns the kind-specific column values, in Columns order.
func (t Table) Values(r *ledger.Request) []any { return t.values(r) }

// ScanTargets returns fresh scan destinations for the kind-specific
// columns and a function that sets the payload once the row is scanned.
func (t Table) ScanTargets() ([]any, func(r *ledger.Request)) { return t.scan() }

// ColumnList is the comma-separated kind-specific column names.
func (t Table) ColumnList() string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

// DDL renders CREATE TABLE and its indexes. envelope is the backend's
// column definitions for the shared request envelope.
func (t Table) DDL(envelope, textType, centsType string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n%s", t.Name, envelope)
	for _, c := range t.Columns {
		switch c.Type {
		case Cents:
			fmt.Fprintf(&b, ",\n\t%s %s NOT NULL DEFAULT 0", c.Name, centsType)
		default:
			fmt.Fprintf(&b, ",\n\t%s %s NOT NULL DEFAULT ''", c.Name, textType)
		}
	}
	b.WriteString("\n);\n")
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_status_created ON %s(status, created_at DESC);\n", t.Name, t.Name)
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_reversal_of ON %s(reversal_of);\n", t.Name, t.Name)
	return b.String()
}

// ForKind returns the table for a kind.
func ForKind(k ledger.Kind) (Table, bool) {
	for _, t := range Tables {
		if t.Kind == k {
			return t, true
		}
	}
	return Table{}, false
}

// Select returns the tables for the given kinds, or all tables when none.
func Select(kinds []ledger.Kind) []Table {
	if len(kinds) == 0 {
		return Tables
	}
	var out []Table
	for _, k := range kinds {
		if t, ok := ForKind(k); ok {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// TABLES
// =============================================================================

var Tables = []Table{
	{
		Kind:    ledger.KindInternalTransfer,
		Name:    "internal_transfers",
		Columns: []Column{{"source_account", Text}, {"destination_account", Text}},
		values: func(r *ledger.Request) []any {
			p := r.Internal
			return []any{string(p.Source), string(p.Destination)}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var src, dst string
			return []any{&src, &dst}, func(r *ledger.Request) {
				r.Internal = &ledger.InternalTransfer{
					Source:      ledger.AccountID(src),
					Destination: ledger.AccountID(dst),
				}
			}
		},
	},
	{
		Kind: ledger.KindExternalTransfer,
		Name: "external_transfers",
		Columns: []Column{
			{"account_id", Text}, {"direction", Text}, {"sub_type", Text},
			{"bank_name", Text}, {"routing_number", Text}, {"external_account", Text},
		},
		values: func(r *ledger.Request) []any {
			p := r.External
			return []any{string(p.Account), string(p.Direction), string(p.SubType),
				p.BankName, p.RoutingNumber, p.ExternalAccount}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var account, direction, subType, bank, routing, external string
			return []any{&account, &direction, &subType, &bank, &routing, &external}, func(r *ledger.Request) {
				r.External = &ledger.ExternalTransfer{
					Account:         ledger.AccountID(account),
					Direction:       ledger.Direction(direction),
					SubType:         ledger.ExternalSubType(subType),
					BankName:        bank,
					RoutingNumber:   routing,
					ExternalAccount: external,
				}
			}
		},
	},
	{
		Kind: ledger.KindWireTransfer,
		Name: "wire_transfers",
		Columns: []Column{
			{"source_account", Text}, {"recipient_name", Text}, {"recipient_bank", Text},
			{"routing_or_swift", Text}, {"recipient_address", Text}, {"transfer_type", Text},
		},
		values: func(r *ledger.Request) []any {
			p := r.Wire
			return []any{string(p.Source), p.RecipientName, p.RecipientBank,
				p.RoutingOrSWIFT, p.RecipientAddress, string(p.Type)}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var src, name, bank, routing, address, typ string
			return []any{&src, &name, &bank, &routing, &address, &typ}, func(r *ledger.Request) {
				r.Wire = &ledger.WireTransfer{
					Source:           ledger.AccountID(src),
					RecipientName:    name,
					RecipientBank:    bank,
					RoutingOrSWIFT:   routing,
					RecipientAddress: address,
					Type:             ledger.WireType(typ),
				}
			}
		},
	},
	{
		Kind:    ledger.KindDeposit,
		Name:    "deposits",
		Columns: []Column{{"destination_account", Text}, {"method", Text}},
		values: func(r *ledger.Request) []any {
			p := r.Deposit
			return []any{string(p.Destination), string(p.Method)}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var dst, method string
			return []any{&dst, &method}, func(r *ledger.Request) {
				r.Deposit = &ledger.Deposit{Destination: ledger.AccountID(dst), Method: ledger.Method(method)}
			}
		},
	},
	{
		Kind:    ledger.KindWithdrawal,
		Name:    "withdrawals",
		Columns: []Column{{"source_account", Text}, {"destination_description", Text}, {"method", Text}},
		values: func(r *ledger.Request) []any {
			p := r.Withdrawal
			return []any{string(p.Source), p.DestinationDescription, string(p.Method)}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var src, desc, method string
			return []any{&src, &desc, &method}, func(r *ledger.Request) {
				r.Withdrawal = &ledger.Withdrawal{
					Source:                 ledger.AccountID(src),
					DestinationDescription: desc,
					Method:                 ledger.Method(method),
				}
			}
		},
	},
	{
		Kind:    ledger.KindBalanceAdjustment,
		Name:    "balance_adjustments",
		Columns: []Column{{"target_account", Text}, {"delta_cents", Cents}, {"rationale", Text}},
		values: func(r *ledger.Request) []any {
			p := r.Adjustment
			return []any{string(p.Target), p.Delta.Cents(), p.Rationale}
		},
		scan: func() ([]any, func(*ledger.Request)) {
			var target, rationale string
			var delta int64
			return []any{&target, &delta, &rationale}, func(r *ledger.Request) {
				r.Adjustment = &ledger.BalanceAdjustment{
					Target:    ledger.AccountID(target),
					Delta:     ledger.NewAmountFromCents(delta),
					Rationale: rationale,
				}
			}
		},
	},
}
