package pool

import (
	"fmt"
	"log/slog"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// AccountView is the admin-facing projection of one pooled account.
type AccountView struct {
	ID            int            `json:"id"`
	Account       domain.Account `json:"-"`
	HasCredential bool           `json:"has_jwt"`
}

// Accounts returns a positional snapshot of all accounts with their cached
// credential state.
func (p *Pool) Accounts() []AccountView {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AccountView, len(p.acts))
	for i, acc := range p.acts {
		acc.Available = p.states[i].available
		out[i] = AccountView{
			ID:            i,
			Account:       acc,
			HasCredential: p.states[i].credential.Token != "",
		}
	}
	return out
}

// Account returns the account at index.
func (p *Pool) Account(index int) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.acts) {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrNotFound, index)
	}
	acc := p.acts[index]
	acc.Available = p.states[index].available
	return acc, nil
}

// Add appends an account, marks it available, persists, and returns its
// position.
func (p *Pool) Add(account domain.Account) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	account.Available = true
	account.UnavailableReason = ""
	account.UnavailableTime = ""
	p.acts = append(p.acts, account)
	p.states = append(p.states, accountState{available: true})
	p.persistLocked()
	p.updateGauges()
	slog.Info("account added", slog.Int("account", len(p.acts)-1), slog.String("csesidx", account.CsesIdx))
	return len(p.acts) - 1
}

// Update replaces the identity fields of the account at index. Cached
// credential and session are kept; rotation re-derives them only when
// cleared or stale.
func (p *Pool) Update(index int, account domain.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.acts) {
		return fmt.Errorf("%w: account %d", domain.ErrNotFound, index)
	}
	cur := &p.acts[index]
	if account.TeamID != "" {
		cur.TeamID = account.TeamID
	}
	if account.SecureCSes != "" {
		cur.SecureCSes = account.SecureCSes
	}
	if account.HostCOses != "" {
		cur.HostCOses = account.HostCOses
	}
	if account.CsesIdx != "" {
		cur.CsesIdx = account.CsesIdx
	}
	if account.UserAgent != "" {
		cur.UserAgent = account.UserAgent
	}
	p.persistLocked()
	return nil
}

// Remove deletes the account at index; the states of the remaining
// accounts keep their relative positions.
func (p *Pool) Remove(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.acts) {
		return fmt.Errorf("%w: account %d", domain.ErrNotFound, index)
	}
	p.acts = append(p.acts[:index], p.acts[index+1:]...)
	p.states = append(p.states[:index], p.states[index+1:]...)
	p.persistLocked()
	p.updateGauges()
	slog.Info("account removed", slog.Int("account", index))
	return nil
}

// ReplaceAll swaps the entire account list, used by config import. All
// cached credentials and sessions are dropped and the cursor resets.
func (p *Pool) ReplaceAll(accounts []domain.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acts = make([]domain.Account, len(accounts))
	copy(p.acts, accounts)
	p.states = make([]accountState, len(accounts))
	for i, acc := range accounts {
		p.states[i] = accountState{available: acc.Available}
	}
	p.cursor = 0
	p.updateGauges()
	slog.Info("account pool replaced", slog.Int("accounts", len(accounts)))
}

// Toggle flips availability. Re-enabling clears the unavailable reason and
// timestamp; any cached credential and session survive the round trip.
func (p *Pool) Toggle(index int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.acts) {
		return false, fmt.Errorf("%w: account %d", domain.ErrNotFound, index)
	}
	next := !p.states[index].available
	p.states[index].available = next
	p.acts[index].Available = next
	if next {
		p.acts[index].UnavailableReason = ""
		p.acts[index].UnavailableTime = ""
	}
	p.persistLocked()
	p.updateGauges()
	slog.Info("account toggled", slog.Int("account", index), slog.Bool("available", next))
	return next, nil
}
