package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset           AccountType = "ASSET"
	AccountTypeLiability       AccountType = "LIABILITY"
	AccountTypeEquity          AccountType = "EQUITY"
	AccountTypeRevenue         AccountType = "REVENUE"
	AccountTypeExpense         AccountType = "EXPENSE"
	AccountTypeContraAsset     AccountType = "CONTRA_ASSET"
	AccountTypeContraLiability AccountType = "CONTRA_LIABILITY"
)

// BalanceSide identifies the side on which an account naturally increases.
type BalanceSide string

const (
	BalanceSideDebit  BalanceSide = "DEBIT"
	BalanceSideCredit BalanceSide = "CREDIT"
)

// NormalBalanceFor derives the normal balance side from the account type.
// The side is fixed by type and never stored independently of it.
func NormalBalanceFor(t AccountType) BalanceSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeContraLiability:
		return BalanceSideDebit
	default:
		return BalanceSideCredit
	}
}

// ValidType reports whether t is a known account type.
func ValidType(t AccountType) bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity,
		AccountTypeRevenue, AccountTypeExpense,
		AccountTypeContraAsset, AccountTypeContraLiability:
		return true
	default:
		return false
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID                int64
	Code              string
	Name              string
	Type              AccountType
	NormalBalance     BalanceSide
	ParentID          *int64
	IsActive          bool
	RequireDepartment bool
	RequireCostCenter bool
	RequireProject    bool
	IsControlAccount  bool
	ControlModule     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Node is an account with its children, as returned by Hierarchy.
type Node struct {
	Account  Account
	Children []Node
}
