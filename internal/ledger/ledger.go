// Package ledger holds per-lane credit balances that authorize writes.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrInsufficient is returned by Spend when the lane cannot cover the
	// amount.
	ErrInsufficient = errors.New("ledger: insufficient balance")

	// ErrOverflow is returned by Deposit when the balance would exceed
	// MaxBalance.
	ErrOverflow = errors.New("ledger: balance overflow")
)

// MaxBalance is the largest balance any account can hold. It is bounded by
// the signed integers the sqlite ledger stores.
const MaxBalance = math.MaxInt64

// ResourceWriteKB is the resource charged for stored kilobytes.
const ResourceWriteKB = "write_kb"

// Ledger authorizes spending against a lane's balance.
type Ledger interface {

	// Spend deducts amount units of resource from lane, or fails with
	// ErrInsufficient leaving the balance untouched.
	Spend(lane string, resource string, amount uint64) error
}

// Balance is one lane's holding of one resource.
type Balance struct {
	Lane     string `json:"lane"`
	Resource string `json:"resource"`
	Amount   uint64 `json:"amount"`
}

type account struct {
	lane     string
	resource string
}

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[account]uint64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[account]uint64)}
}

func (m *Memory) Spend(lane string, resource string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := account{lane, resource}
	have := m.balances[key]
	if have < amount {
		return fmt.Errorf("%w: lane %q has %d %s, needs %d", ErrInsufficient, lane, have, resource, amount)
	}
	m.balances[key] = have - amount
	return nil
}

// Deposit credits amount units of resource to lane.
func (m *Memory) Deposit(lane string, resource string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := account{lane, resource}
	have := m.balances[key]
	if amount > MaxBalance-have {
		return fmt.Errorf("%w: lane %q has %d %s, deposit of %d", ErrOverflow, lane, have, resource, amount)
	}
	m.balances[key] = have + amount
	return nil
}

// Balance returns lane's holding of resource.
func (m *Memory) Balance(lane string, resource string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account{lane, resource}], nil
}

// Balances returns every account ordered by lane then resource.
func (m *Memory) Balances() ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Balance, 0, len(m.balances))
	for k, v := range m.balances {
		out = append(out, Balance{Lane: k.lane, Resource: k.resource, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lane != out[j].Lane {
			return out[i].Lane < out[j].Lane
		}
		return out[i].Resource < out[j].Resource
	})
	return out, nil
}

// Unlimited approves every spend. It suits single-tenant nodes.
type Unlimited struct{}

func (Unlimited) Spend(string, string, uint64) error {
	return nil
}
