package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
	"github.com/nanlv11/business-gemini-pool/internal/usecase"
)

// fakePool rotates over a fixed account list and lets tests fail readiness
// per account index.
type fakePool struct {
	accounts []domain.Account
	cursor   int
	notReady map[int]error
	acquired []int
}

func (f *fakePool) AcquireNext() (int, domain.Account, error) {
	if len(f.accounts) == 0 {
		return 0, domain.Account{}, domain.ErrNoAccounts
	}
	idx := f.cursor % len(f.accounts)
	f.cursor++
	f.acquired = append(f.acquired, idx)
	return idx, f.accounts[idx], nil
}

func (f *fakePool) EnsureReady(_ domain.Context, index int, account domain.Account) (string, string, string, error) {
	if err := f.notReady[index]; err != nil {
		return "", "", "", err
	}
	return fmt.Sprintf("sess-%d", index), fmt.Sprintf("tok-%d", index), account.TeamID, nil
}

func (f *fakePool) Counts() (int, int) {
	return len(f.accounts), len(f.accounts)
}

type fakeBackend struct {
	failFor map[string]error
	calls   []string
	raw     []byte
}

func (f *fakeBackend) StreamAssist(_ domain.Context, token, _, _ string, _ domain.ChatQuery) ([]byte, error) {
	f.calls = append(f.calls, token)
	if err := f.failFor[token]; err != nil {
		return nil, err
	}
	return f.raw, nil
}

type fakeAgg struct {
	result domain.ChatResult
	raw    []byte
}

func (f *fakeAgg) Aggregate(_ domain.Context, _, _ string, raw []byte) domain.ChatResult {
	f.raw = raw
	return f.result
}

func poolOf(n int) *fakePool {
	p := &fakePool{notReady: map[int]error{}}
	for i := 0; i < n; i++ {
		p.accounts = append(p.accounts, domain.Account{TeamID: fmt.Sprintf("team-%d", i), Available: true})
	}
	return p
}

func TestDispatchFirstAccountServes(t *testing.T) {
	t.Parallel()
	pool := poolOf(3)
	backend := &fakeBackend{raw: []byte(`[]`)}
	agg := &fakeAgg{result: domain.ChatResult{Text: "hi"}}
	d := usecase.NewDispatcher(pool, backend, agg)

	result, err := d.Dispatch(context.Background(), domain.ChatQuery{Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text)
	assert.Equal(t, []int{0}, pool.acquired)
	assert.Equal(t, []byte(`[]`), agg.raw)
}

func TestDispatchRotatesPastFailures(t *testing.T) {
	t.Parallel()
	pool := poolOf(3)
	pool.notReady[0] = errors.New("mint failed")
	backend := &fakeBackend{
		raw:     []byte(`[]`),
		failFor: map[string]error{"tok-1": errors.New("stream reset")},
	}
	agg := &fakeAgg{result: domain.ChatResult{Text: "ok"}}
	d := usecase.NewDispatcher(pool, backend, agg)

	result, err := d.Dispatch(context.Background(), domain.ChatQuery{Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	// Account 0 failed readiness, account 1 failed the stream, account 2
	// served. The backend never saw account 0.
	assert.Equal(t, []int{0, 1, 2}, pool.acquired)
	assert.Equal(t, []string{"tok-1", "tok-2"}, backend.calls)
}

func TestDispatchAllAccountsFailed(t *testing.T) {
	t.Parallel()
	pool := poolOf(2)
	pool.notReady[0] = errors.New("dead 0")
	pool.notReady[1] = errors.New("dead 1")
	d := usecase.NewDispatcher(pool, &fakeBackend{}, &fakeAgg{})

	_, err := d.Dispatch(context.Background(), domain.ChatQuery{Message: "q"})
	require.ErrorIs(t, err, domain.ErrAllAccountsFailed)
	assert.Contains(t, err.Error(), "dead 1")
	// Attempts are bounded by the account count.
	assert.Len(t, pool.acquired, 2)
}

func TestDispatchEmptyPool(t *testing.T) {
	t.Parallel()
	d := usecase.NewDispatcher(poolOf(0), &fakeBackend{}, &fakeAgg{})
	_, err := d.Dispatch(context.Background(), domain.ChatQuery{Message: "q"})
	require.ErrorIs(t, err, domain.ErrNoAccounts)
}
