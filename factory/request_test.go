package factory_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/factory"
	"github.com/warp/funds-engine/ledger"
)

func TestParseEnvelope_AllKinds(t *testing.T) {
	f := factory.NewRequestFactory()

	tests := []struct {
		name  string
		json  string
		check func(t *testing.T, r *ledger.Request)
	}{
		{
			name: "internal transfer",
			json: `{"kind":"internal_transfer","requested_by":"alice","amount":"75.00","source":"a","destination":"b"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.Internal)
				assert.Equal(t, ledger.AccountID("a"), r.Internal.Source)
				assert.Equal(t, ledger.AccountID("b"), r.Internal.Destination)
			},
		},
		{
			name: "external transfer",
			json: `{"kind":"external_transfer","requested_by":"alice","amount":100,"fee":"1.50","account":"a",
				"direction":"Outbound","sub_type":"same_day_ach","bank_name":"Chase","routing_number":"021000021","external_account":"99887766"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.External)
				assert.Equal(t, ledger.Outbound, r.External.Direction)
				assert.Equal(t, ledger.SubTypeSameDayACH, r.External.SubType)
				assert.Equal(t, "1.50", r.Fee.String())
				assert.True(t, r.IsWithdrawalClass())
			},
		},
		{
			name: "wire transfer",
			json: `{"kind":"wire_transfer","requested_by":"alice","amount":"250.00","fee":"25","source":"a",
				"recipient_name":"Acme GmbH","recipient_bank":"Deutsche Bank","routing_or_swift":"DEUTDEFF",
				"recipient_address":"Taunusanlage 12","transfer_type":"international"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.Wire)
				assert.Equal(t, ledger.WireInternational, r.Wire.Type)
				assert.Equal(t, "275.00", r.Debit().String())
			},
		},
		{
			name: "deposit",
			json: `{"kind":"deposit","requested_by":"alice","amount":"50","destination":"a","method":"card","currency":"usd"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.Deposit)
				assert.Equal(t, ledger.MethodCard, r.Deposit.Method)
				assert.Equal(t, "USD", r.Currency)
			},
		},
		{
			name: "withdrawal",
			json: `{"kind":"withdrawal","requested_by":"alice","amount":"20.00","source":"a","destination_description":"Chase ****1234","method":"bank"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.Withdrawal)
				assert.Equal(t, "Chase ****1234", r.Withdrawal.DestinationDescription)
			},
		},
		{
			name: "balance adjustment derives amount from delta",
			json: `{"kind":"balance_adjustment","requested_by":"ops","target":"a","delta":"-12.50","rationale":"duplicate fee"}`,
			check: func(t *testing.T, r *ledger.Request) {
				require.NotNil(t, r.Adjustment)
				assert.Equal(t, "-12.50", r.Adjustment.Delta.String())
				assert.Equal(t, "12.50", r.Amount.String())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.ParseEnvelope([]byte(tt.json))
			require.NoError(t, err)
			require.NoError(t, r.Validate())
			tt.check(t, r)
		})
	}
}

func TestParseEnvelope_PendingApprovalFoldsToPending(t *testing.T) {
	r, err := factory.NewRequestFactory().ParseEnvelope([]byte(
		`{"kind":"deposit","requested_by":"alice","amount":"5","destination":"a","method":"bank","status":"pending_approval"}`))

	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, r.Status)
}

func TestParseEnvelope_Rejects(t *testing.T) {
	f := factory.NewRequestFactory()

	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"missing kind", `{"amount":"1"}`, "kind"},
		{"unknown kind", `{"kind":"crypto_swap","amount":"1"}`, "kind"},
		{"field from another kind", `{"kind":"deposit","amount":"1","destination":"a","method":"card","recipient_name":"x"}`, "recipient_name"},
		{"sub-cent amount", `{"kind":"deposit","amount":"1.005","destination":"a","method":"card"}`, "amount"},
		{"amount beyond int64 cents", `{"kind":"deposit","amount":"184467440737095516.17","destination":"a","method":"card"}`, "amount"},
		{"numeric amount beyond int64 cents", `{"kind":"deposit","amount":92233720368547758.08,"destination":"a","method":"card"}`, "amount"},
		{"wrong type", `{"kind":"deposit","amount":"1","destination":42,"method":"card"}`, "destination"},
		{"bad status", `{"kind":"deposit","amount":"1","destination":"a","method":"card","status":"approved"}`, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseEnvelope([]byte(tt.json))

			require.ErrorIs(t, err, ledger.ErrValidation)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseEnvelope_MalformedJSON(t *testing.T) {
	_, err := factory.NewRequestFactory().ParseEnvelope([]byte(`{"kind":`))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestParse_KindMismatch(t *testing.T) {
	_, err := factory.NewRequestFactory().Parse(ledger.KindWithdrawal,
		[]byte(`{"kind":"deposit","amount":"1","source":"a","destination_description":"x","method":"bank"}`))

	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kind", verr.Field)
}

func TestToJSON_OmitsForeignFields(t *testing.T) {
	f := factory.NewRequestFactory()
	created := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("deposit has no fee", func(t *testing.T) {
		req := &ledger.Request{
			ID: "r1", Kind: ledger.KindDeposit, RequestedBy: "alice",
			Amount: ledger.MustAmount("50"), Currency: "USD", Status: ledger.StatusPending,
			CreatedAt: created, UpdatedAt: created,
			Deposit: &ledger.Deposit{Destination: "a", Method: ledger.MethodCard},
		}

		data, err := json.Marshal(f.ToJSON(req))
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, "50.00", m["amount"])
		assert.Equal(t, "a", m["destination"])
		assert.NotContains(t, m, "fee")
		assert.NotContains(t, m, "source")
		assert.NotContains(t, m, "processed_at")
	})

	t.Run("refund record carries its link", func(t *testing.T) {
		req := &ledger.Request{
			ID: "r2", Kind: ledger.KindInternalTransfer, RequestedBy: "alice",
			Amount: ledger.MustAmount("75"), Currency: "USD", Status: ledger.StatusCompleted,
			ReversalOf: "r0", CreatedAt: created, UpdatedAt: created,
			Internal: &ledger.InternalTransfer{Source: "b", Destination: "a"},
		}

		rj := f.ToJSON(req)
		assert.Equal(t, "r0", rj.ReversalOf)
		assert.Equal(t, "b", rj.Source)
		assert.Nil(t, rj.Fee)
	})

	t.Run("adjustment delta keeps its sign", func(t *testing.T) {
		req := &ledger.Request{
			ID: "r3", Kind: ledger.KindBalanceAdjustment, RequestedBy: "ops",
			Amount: ledger.MustAmount("5"), Currency: "USD", Status: ledger.StatusCompleted,
			Adjustment: &ledger.BalanceAdjustment{Target: "a", Delta: ledger.MustAmount("-5"), Rationale: "fix"},
		}

		rj := f.ToJSON(req)
		require.NotNil(t, rj.Delta)
		assert.Equal(t, "-5.00", rj.Delta.String())
	})
}

func TestRoundTrip_ParseOfToJSON(t *testing.T) {
	// GIVEN: A wire transfer rendered for a client
	f := factory.NewRequestFactory()
	orig := &ledger.Request{
		Kind: ledger.KindWireTransfer, RequestedBy: "alice",
		Amount: ledger.MustAmount("250"), Fee: ledger.MustAmount("25"), Currency: "USD",
		Wire: &ledger.WireTransfer{
			Source: "a", RecipientName: "Acme", RecipientBank: "Bank",
			RoutingOrSWIFT: "021000021", Type: ledger.WireDomestic,
		},
	}
	rj := f.ToJSON(orig)

	// WHEN: The editable fields are sent back
	body, err := json.Marshal(map[string]any{
		"kind": rj.Kind, "requested_by": rj.RequestedBy, "amount": rj.Amount, "fee": rj.Fee,
		"source": rj.Source, "recipient_name": rj.RecipientName, "recipient_bank": rj.RecipientBank,
		"routing_or_swift": rj.RoutingOrSWIFT, "transfer_type": rj.TransferType,
	})
	require.NoError(t, err)
	parsed, err := f.ParseEnvelope(body)

	// THEN: The parsed request is equivalent
	require.NoError(t, err)
	assert.Equal(t, orig.Wire, parsed.Wire)
	assert.True(t, orig.Amount.Equal(parsed.Amount))
	assert.True(t, orig.Fee.Equal(parsed.Fee))
}
