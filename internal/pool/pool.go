// Package pool owns the account list, per-account credential and session
// caches, and the rotation cursor. One mutex covers rotation, demotion and
// refresh, so credential refreshes are serialized pool-wide: that bounds
// concurrent outbound auth traffic at the cost of one slow refresh blocking
// rotation for everyone.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Vendor is the slice of the vendor client the pool needs for refresh.
type Vendor interface {
	MintCredential(ctx domain.Context, account domain.Account) (domain.Credential, error)
	CreateSession(ctx domain.Context, token, teamID string) (string, error)
}

// Persister receives the account list after every mutation.
type Persister interface {
	PersistAccounts(accounts []domain.Account) error
}

// accountState caches what an account has already negotiated with the
// backend. Never reused while available is false.
type accountState struct {
	credential domain.Credential
	session    string
	available  bool
}

// Pool hands out ready-to-use (session, credential, account) tuples in
// round-robin order over the currently-available subset.
type Pool struct {
	mu      sync.Mutex
	acts    []domain.Account
	states  []accountState
	cursor  int
	vendor  Vendor
	persist Persister

	// now is the pool clock; swapped in tests.
	now func() time.Time
	// demoteOn is the single decision point for whether a readiness
	// failure permanently disables the account. The default demotes on
	// any failure, transient network errors included.
	demoteOn func(error) bool
}

// New builds a pool over the given accounts. Accounts flagged unavailable
// in the store stay demoted until toggled back.
func New(accounts []domain.Account, vendor Vendor, persist Persister) *Pool {
	p := &Pool{
		acts:     make([]domain.Account, len(accounts)),
		states:   make([]accountState, len(accounts)),
		vendor:   vendor,
		persist:  persist,
		now:      time.Now,
		demoteOn: func(error) bool { return true },
	}
	copy(p.acts, accounts)
	for i, acc := range accounts {
		p.states[i] = accountState{available: acc.Available}
	}
	p.updateGauges()
	return p
}

// AcquireNext selects the next available account round-robin and advances
// the cursor. The cursor is taken modulo the live available count, so pool
// resizing and demotion never index out of bounds.
func (p *Pool) AcquireNext() (int, domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type candidate struct {
		idx int
		acc domain.Account
	}
	available := make([]candidate, 0, len(p.acts))
	for i, acc := range p.acts {
		if p.states[i].available {
			available = append(available, candidate{idx: i, acc: acc})
		}
	}
	if len(available) == 0 {
		return 0, domain.Account{}, domain.ErrNoAccounts
	}

	p.cursor = p.cursor % len(available)
	picked := available[p.cursor]
	p.cursor = (p.cursor + 1) % len(available)
	return picked.idx, picked.acc, nil
}

// Counts returns (total, available).
func (p *Pool) Counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.acts), p.availableLocked()
}

func (p *Pool) availableLocked() int {
	n := 0
	for _, st := range p.states {
		if st.available {
			n++
		}
	}
	return n
}

// Demote marks the account permanently unavailable until manually
// re-enabled, records the reason, and persists. Idempotent.
func (p *Pool) Demote(index int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.demoteLocked(index, reason)
}

func (p *Pool) demoteLocked(index int, reason string) {
	if index < 0 || index >= len(p.acts) {
		return
	}
	if !p.states[index].available {
		return
	}
	p.states[index].available = false
	p.acts[index].Available = false
	p.acts[index].UnavailableReason = reason
	p.acts[index].UnavailableTime = p.now().Format(time.RFC3339)
	p.persistLocked()
	p.updateGauges()
	observability.AccountDemotionsTotal.Inc()
	slog.Warn("account demoted",
		slog.Int("account", index),
		slog.String("csesidx", p.acts[index].CsesIdx),
		slog.String("reason", reason))
}

// EnsureReady returns a fresh credential and the account's session handle,
// creating either as needed. Refresh happens under the pool lock, so one
// slow mint blocks rotation. A refresh failure demotes the account through
// demoteOn before the error is returned.
func (p *Pool) EnsureReady(ctx domain.Context, index int, account domain.Account) (session, token, teamID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.states) {
		return "", "", "", fmt.Errorf("%w: account index %d out of range", domain.ErrInvalidArgument, index)
	}
	st := &p.states[index]
	if !st.available {
		return "", "", "", fmt.Errorf("account %d no longer available", index)
	}

	if !st.credential.Fresh(p.now()) {
		cred, err := p.vendor.MintCredential(ctx, account)
		if err != nil {
			if p.demoteOn(err) {
				p.demoteLocked(index, err.Error())
			}
			return "", "", "", err
		}
		st.credential = cred
		slog.Debug("credential refreshed", slog.Int("account", index), slog.String("csesidx", account.CsesIdx))
	}

	if st.session == "" {
		sess, err := p.vendor.CreateSession(ctx, st.credential.Token, account.TeamID)
		if err != nil {
			if p.demoteOn(err) {
				p.demoteLocked(index, err.Error())
			}
			return "", "", "", err
		}
		st.session = sess
	}

	return st.session, st.credential.Token, account.TeamID, nil
}

func (p *Pool) persistLocked() {
	if p.persist == nil {
		return
	}
	snapshot := make([]domain.Account, len(p.acts))
	copy(snapshot, p.acts)
	if err := p.persist.PersistAccounts(snapshot); err != nil {
		slog.Error("account persist failed", slog.Any("error", err))
	}
}

func (p *Pool) updateGauges() {
	observability.AccountsTotal.Set(float64(len(p.acts)))
	observability.AccountsAvailable.Set(float64(p.availableLocked()))
}
