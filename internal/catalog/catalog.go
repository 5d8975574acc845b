// Package catalog declares the exportable entity kinds, their foreign keys and
// the order in which they must be created.
package catalog

import "slices"

// Kind names an entity kind. The value is the key used in backup documents and
// in the record store.
type Kind string

// Entity kinds in dependency order.
const (
	Profiles           Kind = "profiles"
	Categories         Kind = "categories"
	Suppliers          Kind = "suppliers"
	Banks              Kind = "banks"
	BankAccounts       Kind = "bank_accounts"
	AccountsPayable    Kind = "accounts_payable"
	AccountsReceivable Kind = "accounts_receivable"
	Transactions       Kind = "transactions"
)

// ForeignKey is a record field that holds the id of a record of another kind.
type ForeignKey struct {
	Field string
	Kind  Kind
}

// Entry describes one entity kind.
type Entry struct {
	Kind        Kind
	ForeignKeys []ForeignKey
	Position    int
}

// entries is the catalog in forward dependency order. Position equals the index.
var entries = []Entry{
	{Kind: Profiles},
	{Kind: Categories, ForeignKeys: []ForeignKey{
		{Field: "parent_id", Kind: Categories},
	}},
	{Kind: Suppliers, ForeignKeys: []ForeignKey{
		{Field: "category_id", Kind: Categories},
	}},
	{Kind: Banks},
	{Kind: BankAccounts, ForeignKeys: []ForeignKey{
		{Field: "bank_id", Kind: Banks},
	}},
	{Kind: AccountsPayable, ForeignKeys: []ForeignKey{
		{Field: "supplier_id", Kind: Suppliers},
		{Field: "category_id", Kind: Categories},
		{Field: "bank_account_id", Kind: BankAccounts},
	}},
	{Kind: AccountsReceivable, ForeignKeys: []ForeignKey{
		{Field: "category_id", Kind: Categories},
		{Field: "bank_account_id", Kind: BankAccounts},
	}},
	{Kind: Transactions, ForeignKeys: []ForeignKey{
		{Field: "category_id", Kind: Categories},
		{Field: "bank_account_id", Kind: BankAccounts},
		{Field: "account_payable_id", Kind: AccountsPayable},
		{Field: "account_receivable_id", Kind: AccountsReceivable},
	}},
}

var byKind = func() map[Kind]Entry {
	m := make(map[Kind]Entry, len(entries))
	for i := range entries {
		entries[i].Position = i
		m[entries[i].Kind] = entries[i]
	}
	return m
}()

// All returns the catalog entries in forward dependency order
// (parents before children).
func All() []Entry {
	return slices.Clone(entries)
}

// Reverse returns the catalog entries in reverse dependency order
// (children before parents), the order deletions must follow.
func Reverse() []Entry {
	out := slices.Clone(entries)
	slices.Reverse(out)
	return out
}

// Kinds returns the kind names in forward dependency order.
func Kinds() []Kind {
	kinds := make([]Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}

// Lookup returns the entry for kind.
func Lookup(kind Kind) (Entry, bool) {
	e, ok := byKind[kind]
	return e, ok
}

// IsKnown reports whether kind is part of the catalog.
func IsKnown(kind Kind) bool {
	_, ok := byKind[kind]
	return ok
}

// Position returns the dependency position of kind, or -1 if unknown.
func Position(kind Kind) int {
	if e, ok := byKind[kind]; ok {
		return e.Position
	}
	return -1
}
