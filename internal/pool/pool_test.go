package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

type fakeVendor struct {
	mints    int
	sessions int
	mintErr  error
	sessErr  error
}

func (f *fakeVendor) MintCredential(_ domain.Context, acc domain.Account) (domain.Credential, error) {
	f.mints++
	if f.mintErr != nil {
		return domain.Credential{}, f.mintErr
	}
	return domain.Credential{Token: fmt.Sprintf("tok-%s-%d", acc.CsesIdx, f.mints), IssuedAt: time.Now()}, nil
}

func (f *fakeVendor) CreateSession(_ domain.Context, _, _ string) (string, error) {
	f.sessions++
	if f.sessErr != nil {
		return "", f.sessErr
	}
	return fmt.Sprintf("sess-%d", f.sessions), nil
}

type fakePersister struct{ calls int }

func (f *fakePersister) PersistAccounts(_ []domain.Account) error {
	f.calls++
	return nil
}

func accounts(n int) []domain.Account {
	out := make([]domain.Account, n)
	for i := range out {
		out[i] = domain.Account{
			TeamID:     fmt.Sprintf("team-%d", i),
			SecureCSes: "ses",
			HostCOses:  "oses",
			CsesIdx:    fmt.Sprintf("idx-%d", i),
			Available:  true,
		}
	}
	return out
}

func TestAcquireNextRoundRobin(t *testing.T) {
	t.Parallel()
	p := New(accounts(3), &fakeVendor{}, nil)

	var got []int
	for i := 0; i < 4; i++ {
		idx, _, err := p.AcquireNext()
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0}, got)
}

func TestAcquireNextSkipsDemoted(t *testing.T) {
	t.Parallel()
	p := New(accounts(2), &fakeVendor{}, nil)
	p.Demote(0, "expired cookies")

	for i := 0; i < 3; i++ {
		idx, acc, err := p.AcquireNext()
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		assert.Equal(t, "idx-1", acc.CsesIdx)
	}
}

func TestAcquireNextCursorSurvivesShrink(t *testing.T) {
	t.Parallel()
	p := New(accounts(3), &fakeVendor{}, nil)

	// Advance the cursor to the end of the live list, then shrink it.
	_, _, err := p.AcquireNext()
	require.NoError(t, err)
	_, _, err = p.AcquireNext()
	require.NoError(t, err)
	p.Demote(2, "gone")

	idx, _, err := p.AcquireNext()
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, idx)
}

func TestAcquireNextNoAccounts(t *testing.T) {
	t.Parallel()
	p := New(nil, &fakeVendor{}, nil)
	_, _, err := p.AcquireNext()
	require.ErrorIs(t, err, domain.ErrNoAccounts)

	p = New(accounts(1), &fakeVendor{}, nil)
	p.Demote(0, "down")
	_, _, err = p.AcquireNext()
	require.ErrorIs(t, err, domain.ErrNoAccounts)
}

func TestDemoteIdempotent(t *testing.T) {
	t.Parallel()
	persist := &fakePersister{}
	p := New(accounts(1), &fakeVendor{}, persist)

	p.Demote(0, "first reason")
	p.Demote(0, "second reason")

	acc, err := p.Account(0)
	require.NoError(t, err)
	assert.False(t, acc.Available)
	assert.Equal(t, "first reason", acc.UnavailableReason)
	assert.NotEmpty(t, acc.UnavailableTime)
	assert.Equal(t, 1, persist.calls)
}

func TestDemoteRecordsRFC3339Time(t *testing.T) {
	t.Parallel()
	frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	p := New(accounts(1), &fakeVendor{}, nil)
	p.now = func() time.Time { return frozen }

	p.Demote(0, "auth failed")

	acc, err := p.Account(0)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T09:26:53Z", acc.UnavailableTime)
}

func TestEnsureReadyCachesCredentialAndSession(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{}
	p := New(accounts(1), vendor, nil)
	base := time.Now()
	now := base
	p.now = func() time.Time { return now }

	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)

	sess, token, teamID, err := p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess)
	assert.NotEmpty(t, token)
	assert.Equal(t, "team-0", teamID)
	assert.Equal(t, 1, vendor.mints)
	assert.Equal(t, 1, vendor.sessions)

	// Inside the reuse window nothing is re-minted.
	now = base.Add(domain.CredentialFreshFor - time.Second)
	_, token2, _, err := p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)
	assert.Equal(t, token, token2)
	assert.Equal(t, 1, vendor.mints)
	assert.Equal(t, 1, vendor.sessions)
}

func TestEnsureReadyRefreshesStaleCredential(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{}
	p := New(accounts(1), vendor, nil)
	base := time.Now()
	now := base
	p.now = func() time.Time { return now }

	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	_, token, _, err := p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)

	// Past the reuse window the credential is re-minted; the session
	// handle survives the refresh.
	now = base.Add(domain.CredentialFreshFor + time.Second)
	sess, token2, _, err := p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.Equal(t, "sess-1", sess)
	assert.Equal(t, 2, vendor.mints)
	assert.Equal(t, 1, vendor.sessions)
}

func TestEnsureReadyDemotesOnMintFailure(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{mintErr: errors.New("cookies rejected")}
	p := New(accounts(1), vendor, nil)

	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.Error(t, err)

	got, err := p.Account(0)
	require.NoError(t, err)
	assert.False(t, got.Available)
	assert.Equal(t, "cookies rejected", got.UnavailableReason)

	_, _, err = p.AcquireNext()
	require.ErrorIs(t, err, domain.ErrNoAccounts)
}

func TestEnsureReadyDemoteDecisionPoint(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{sessErr: errors.New("transient")}
	p := New(accounts(1), vendor, nil)
	p.demoteOn = func(error) bool { return false }

	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.Error(t, err)

	got, err := p.Account(0)
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestEnsureReadyRejectsDemotedAccount(t *testing.T) {
	t.Parallel()
	p := New(accounts(2), &fakeVendor{}, nil)
	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	p.Demote(idx, "down")

	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.Error(t, err)
}

func TestToggleReenableClearsReason(t *testing.T) {
	t.Parallel()
	p := New(accounts(1), &fakeVendor{}, nil)
	p.Demote(0, "bad cookies")

	available, err := p.Toggle(0)
	require.NoError(t, err)
	assert.True(t, available)

	acc, err := p.Account(0)
	require.NoError(t, err)
	assert.True(t, acc.Available)
	assert.Empty(t, acc.UnavailableReason)
	assert.Empty(t, acc.UnavailableTime)
}

func TestToggleKeepsCachedState(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{}
	p := New(accounts(1), vendor, nil)
	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)

	_, err = p.Toggle(0)
	require.NoError(t, err)
	_, err = p.Toggle(0)
	require.NoError(t, err)

	// The cached credential survives the disable/enable round trip, so no
	// extra mint happens.
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.mints)
	assert.Equal(t, 1, vendor.sessions)
}

func TestAddUpdateRemove(t *testing.T) {
	t.Parallel()
	persist := &fakePersister{}
	p := New(nil, &fakeVendor{}, persist)

	id := p.Add(domain.Account{TeamID: "t", SecureCSes: "s", CsesIdx: "c", Available: false})
	assert.Equal(t, 0, id)

	// Add forces availability regardless of the payload flag.
	acc, err := p.Account(0)
	require.NoError(t, err)
	assert.True(t, acc.Available)

	require.NoError(t, p.Update(0, domain.Account{TeamID: "t2"}))
	acc, err = p.Account(0)
	require.NoError(t, err)
	assert.Equal(t, "t2", acc.TeamID)
	assert.Equal(t, "c", acc.CsesIdx)

	require.NoError(t, p.Remove(0))
	total, _ := p.Counts()
	assert.Equal(t, 0, total)

	require.Error(t, p.Update(5, domain.Account{}))
	require.Error(t, p.Remove(0))
}

func TestReplaceAllResetsPool(t *testing.T) {
	t.Parallel()
	vendor := &fakeVendor{}
	p := New(accounts(1), vendor, nil)
	idx, acc, err := p.AcquireNext()
	require.NoError(t, err)
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)

	p.ReplaceAll(accounts(2))
	total, available := p.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, available)

	// Cached credentials were dropped with the old states.
	idx, acc, err = p.AcquireNext()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	_, _, _, err = p.EnsureReady(context.Background(), idx, acc)
	require.NoError(t, err)
	assert.Equal(t, 2, vendor.mints)
}
