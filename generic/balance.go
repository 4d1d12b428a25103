package generic

import (
	"sort"
	"strings"
)

// =============================================================================
// BALANCES - Replay of movements
// =============================================================================

// Balances maps every account touched by a journal to its net quantity.
// Because each movement is double entry, the values always sum to zero.
type Balances struct {
	unit     Unit
	accounts map[Account]Amount
}

// Replay folds movements, in any order, into per-account balances.
func Replay(unit Unit, movements []Movement) Balances {
	b := Balances{unit: unit, accounts: make(map[Account]Amount)}
	for _, m := range movements {
		b.apply(m)
	}
	return b
}

func (b *Balances) apply(m Movement) {
	b.accounts[m.From] = b.Of(m.From).Sub(m.Quantity)
	b.accounts[m.To] = b.Of(m.To).Add(m.Quantity)
}

// Of returns the balance of one account, zero if it never moved.
func (b Balances) Of(a Account) Amount {
	if v, ok := b.accounts[a]; ok {
		return v
	}
	return NewAmountFromInt(0, b.unit)
}

// WithPrefix returns the accounts whose name starts with prefix, sorted.
func (b Balances) WithPrefix(prefix string) []Account {
	var out []Account
	for a := range b.accounts {
		if strings.HasPrefix(string(a), prefix) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SumPrefix adds up every account starting with prefix.
func (b Balances) SumPrefix(prefix string) Amount {
	total := NewAmountFromInt(0, b.unit)
	for _, a := range b.WithPrefix(prefix) {
		total = total.Add(b.accounts[a])
	}
	return total
}

// Net is the sum over all accounts. Anything but zero means a corrupt journal.
func (b Balances) Net() Amount {
	total := NewAmountFromInt(0, b.unit)
	for _, v := range b.accounts {
		total = total.Add(v)
	}
	return total
}

// InCirculation is everything brought in from outside and not yet removed.
func (b Balances) InCirculation() Amount {
	return b.Of(AccountExternal).Neg()
}
