package ledger_test

import (
	"context"
	"math"
	"path/filepath"
	"shardvault/internal/ledger"
	"testing"

	"github.com/stretchr/testify/require"
)

// funded is implemented by every ledger that can take deposits.
type funded interface {
	ledger.Ledger
	Deposit(lane string, resource string, amount uint64) error
	Balance(lane string, resource string) (uint64, error)
	Balances() ([]ledger.Balance, error)
}

func ledgers(t *testing.T) map[string]funded {
	t.Helper()

	db, err := ledger.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err, "OpenSQLite error")
	t.Cleanup(func() { _ = db.Close() })

	return map[string]funded{
		"memory": ledger.NewMemory(),
		"sqlite": db,
	}
}

func TestSpendWithinBalance(t *testing.T) {
	t.Parallel()

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Deposit("lane", ledger.ResourceWriteKB, 1024), "Deposit error")
			require.NoError(t, l.Spend("lane", ledger.ResourceWriteKB, 1000), "Spend error")

			have, err := l.Balance("lane", ledger.ResourceWriteKB)
			require.NoError(t, err, "Balance error")
			require.Equal(t, uint64(24), have, "remaining balance")
		})
	}
}

func TestSpendBeyondBalanceLeavesItUntouched(t *testing.T) {
	t.Parallel()

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Deposit("lane", ledger.ResourceWriteKB, 1023), "Deposit error")

			err := l.Spend("lane", ledger.ResourceWriteKB, 1024)
			require.ErrorIs(t, err, ledger.ErrInsufficient, "overspend should fail")

			have, err := l.Balance("lane", ledger.ResourceWriteKB)
			require.NoError(t, err, "Balance error")
			require.Equal(t, uint64(1023), have, "balance untouched")

			err = l.Spend("unknown", ledger.ResourceWriteKB, 1)
			require.ErrorIs(t, err, ledger.ErrInsufficient, "unfunded lane should fail")

			require.NoError(t, l.Spend("unknown", ledger.ResourceWriteKB, 0), "zero spend always succeeds")
		})
	}
}

func TestAmountsBeyondMaxBalance(t *testing.T) {
	t.Parallel()

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Deposit("lane", ledger.ResourceWriteKB, 10), "Deposit error")

			err := l.Spend("lane", ledger.ResourceWriteKB, math.MaxUint64)
			require.ErrorIs(t, err, ledger.ErrInsufficient, "amount above any balance")
			err = l.Spend("lane", ledger.ResourceWriteKB, ledger.MaxBalance+1)
			require.ErrorIs(t, err, ledger.ErrInsufficient, "amount just above any balance")

			err = l.Deposit("lane", ledger.ResourceWriteKB, math.MaxUint64)
			require.ErrorIs(t, err, ledger.ErrOverflow, "deposit beyond the maximum")
			err = l.Deposit("lane", ledger.ResourceWriteKB, ledger.MaxBalance-9)
			require.ErrorIs(t, err, ledger.ErrOverflow, "sum beyond the maximum")

			have, err := l.Balance("lane", ledger.ResourceWriteKB)
			require.NoError(t, err, "Balance error")
			require.Equal(t, uint64(10), have, "balance untouched")

			require.NoError(t, l.Deposit("lane", ledger.ResourceWriteKB, ledger.MaxBalance-10), "Deposit error")
			have, err = l.Balance("lane", ledger.ResourceWriteKB)
			require.NoError(t, err, "Balance error")
			require.Equal(t, uint64(ledger.MaxBalance), have, "balance at the maximum")
			require.NoError(t, l.Spend("lane", ledger.ResourceWriteKB, ledger.MaxBalance), "Spend error")
		})
	}
}

func TestBalancesListing(t *testing.T) {
	t.Parallel()

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Deposit("b", ledger.ResourceWriteKB, 5), "Deposit error")
			require.NoError(t, l.Deposit("a", ledger.ResourceWriteKB, 7), "Deposit error")
			require.NoError(t, l.Deposit("a", ledger.ResourceWriteKB, 3), "Deposit error")

			balances, err := l.Balances()
			require.NoError(t, err, "Balances error")
			require.Equal(t, []ledger.Balance{
				{Lane: "a", Resource: ledger.ResourceWriteKB, Amount: 10},
				{Lane: "b", Resource: ledger.ResourceWriteKB, Amount: 5},
			}, balances, "balances mismatch")
		})
	}
}

func TestUnlimitedApprovesEverything(t *testing.T) {
	t.Parallel()

	require.NoError(t, ledger.Unlimited{}.Spend("any", ledger.ResourceWriteKB, 1<<40), "Unlimited should approve")
}
