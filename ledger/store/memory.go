// Package store provides the in-memory ledger.Store.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/warp/funds-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store. A single mutex makes ApplyDelta and
// Transition linearizable.
type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]ledger.Account
	requests map[ledger.RequestID]*ledger.Request
	claims   map[ledger.RequestID]claim
}

type claim struct {
	holder  string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		requests: make(map[ledger.RequestID]*ledger.Request),
		claims:   make(map[ledger.RequestID]claim),
	}
}

// Reset drops all data. Used when loading demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[ledger.AccountID]ledger.Account)
	m.requests = make(map[ledger.RequestID]*ledger.Request)
	m.claims = make(map[ledger.RequestID]claim)
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[acct.ID]; exists {
		return ledger.ErrDuplicate
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	return &acct, nil
}

func (m *Memory) ListAccounts(_ context.Context, owner *ledger.UserID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if owner != nil && a.OwnerID != *owner {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b ledger.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return result, nil
}

func (m *Memory) GetBalance(ctx context.Context, id ledger.AccountID) (ledger.Amount, error) {
	acct, err := m.GetAccount(ctx, id)
	if err != nil {
		return ledger.Amount{}, err
	}
	return acct.Balance, nil
}

func (m *Memory) ApplyDelta(_ context.Context, id ledger.AccountID, delta ledger.Amount, opts ledger.DeltaOptions) (ledger.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return ledger.Amount{}, &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	if !opts.Compensating {
		switch acct.Status {
		case ledger.AccountFrozen:
			return ledger.Amount{}, &ledger.AccountFrozenError{AccountID: id}
		case ledger.AccountClosed:
			return ledger.Amount{}, &ledger.AccountClosedError{AccountID: id}
		}
	}
	next := acct.Balance.Add(delta)
	if !delta.InRange() || !next.InRange() {
		return ledger.Amount{}, &ledger.ValidationError{
			Field:   "amount",
			Message: "balance of account " + string(id) + " would leave the supported range",
		}
	}
	if opts.RequireSufficientFunds && next.IsNegative() {
		return ledger.Amount{}, &ledger.InsufficientFundsError{
			AccountID: id,
			Available: acct.Balance,
			Required:  delta.Neg(),
		}
	}
	acct.Balance = next
	acct.UpdatedAt = time.Now().UTC()
	m.accounts[id] = acct
	return next, nil
}

func (m *Memory) SetAccountStatus(_ context.Context, id ledger.AccountID, status ledger.AccountStatus) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	acct.Status = status
	acct.UpdatedAt = time.Now().UTC()
	m.accounts[id] = acct
	return &acct, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) Create(_ context.Context, req *ledger.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; exists {
		return ledger.ErrDuplicate
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id ledger.RequestID) (*ledger.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, &ledger.NotFoundError{Entity: "request", ID: string(id)}
	}
	return req.Clone(), nil
}

func (m *Memory) ListPending(ctx context.Context, kind *ledger.Kind) ([]ledger.Request, error) {
	filter := ledger.RequestFilter{Statuses: []ledger.Status{ledger.StatusPending}}
	if kind != nil {
		filter.Kinds = []ledger.Kind{*kind}
	}
	return m.List(ctx, filter)
}

func (m *Memory) List(_ context.Context, filter ledger.RequestFilter) ([]ledger.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Request, 0)
	for _, req := range m.requests {
		if filter.Matches(req) {
			result = append(result, *req.Clone())
		}
	}
	slices.SortFunc(result, func(a, b ledger.Request) int {
		return ledger.NewestFirst(&a, &b)
	})
	return filter.Page(result), nil
}

func (m *Memory) Transition(_ context.Context, id ledger.RequestID, expected, next ledger.Status, meta ledger.TransitionMeta) (*ledger.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, &ledger.NotFoundError{Entity: "request", ID: string(id)}
	}
	if req.Status != expected {
		return nil, &ledger.ConflictError{RequestID: id, Expected: expected, Actual: req.Status}
	}

	updated := req.Clone()
	updated.Status = next
	updated.UpdatedAt = time.Now().UTC()
	if meta.ProcessedBy != "" {
		updated.ProcessedBy = meta.ProcessedBy
	}
	if meta.ProcessedAt != nil {
		t := *meta.ProcessedAt
		updated.ProcessedAt = &t
	}
	if meta.Notes != "" {
		updated.Notes = meta.Notes
	}
	if meta.RejectionReason != "" {
		updated.RejectionReason = meta.RejectionReason
	}
	m.requests[id] = updated
	return updated.Clone(), nil
}

func (m *Memory) Claim(_ context.Context, id ledger.RequestID, holder string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[id]; !ok {
		return &ledger.NotFoundError{Entity: "request", ID: string(id)}
	}
	now := time.Now()
	if c, ok := m.claims[id]; ok && c.holder != holder && now.Before(c.expires) {
		return &ledger.ConflictError{RequestID: id, Claimed: true}
	}
	m.claims[id] = claim{holder: holder, expires: now.Add(lease)}
	return nil
}

func (m *Memory) Release(_ context.Context, id ledger.RequestID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.claims[id]; ok && c.holder == holder {
		delete(m.claims, id)
	}
	return nil
}

var _ ledger.Store = (*Memory)(nil)
