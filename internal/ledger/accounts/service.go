package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// CreateAccountInput carries the fields for a new chart of accounts node.
type CreateAccountInput struct {
	Code              string      `validate:"required,max=32"`
	Name              string      `validate:"required,max=255"`
	Type              AccountType `validate:"required"`
	ParentID          *int64
	RequireDepartment bool
	RequireCostCenter bool
	RequireProject    bool
	IsControlAccount  bool
	ControlModule     string
}

// Service manages the chart of accounts.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService constructs the account registry service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// Create inserts a new account, deriving the normal balance from its type.
func (s *Service) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := s.validate.Struct(in); err != nil {
		return Account{}, fmt.Errorf("accounts: invalid input: %w", err)
	}
	if !ValidType(in.Type) {
		return Account{}, fmt.Errorf("accounts: unknown type %q", in.Type)
	}
	if in.IsControlAccount && strings.TrimSpace(in.ControlModule) == "" {
		return Account{}, errors.New("accounts: control account requires a subsidiary module")
	}
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, *in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if !parent.IsActive {
			return Account{}, shared.ErrInvalidAccount
		}
	}
	account := Account{
		Code:              strings.TrimSpace(in.Code),
		Name:              strings.TrimSpace(in.Name),
		Type:              in.Type,
		NormalBalance:     NormalBalanceFor(in.Type),
		ParentID:          in.ParentID,
		IsActive:          true,
		RequireDepartment: in.RequireDepartment,
		RequireCostCenter: in.RequireCostCenter,
		RequireProject:    in.RequireProject,
		IsControlAccount:  in.IsControlAccount,
		ControlModule:     in.ControlModule,
	}
	return s.repo.Insert(ctx, account)
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode returns an account by its unique code.
func (s *Service) GetByCode(ctx context.Context, code string) (Account, error) {
	return s.repo.GetByCode(ctx, code)
}

// List returns accounts ordered by code.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Account, error) {
	return s.repo.List(ctx, activeOnly)
}

// ListControlAccounts returns active accounts flagged as control accounts.
func (s *Service) ListControlAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListControlAccounts(ctx)
}

// Hierarchy returns the account tree rooted at rootID, or the full forest
// when rootID is nil. One query per level; cycles are impossible because
// parent assignment is validated against existing rows at creation.
func (s *Service) Hierarchy(ctx context.Context, rootID *int64) ([]Node, error) {
	var roots []Account
	if rootID != nil {
		root, err := s.repo.Get(ctx, *rootID)
		if err != nil {
			return nil, err
		}
		roots = []Account{root}
	} else {
		var err error
		roots, err = s.repo.ListChildren(ctx, nil)
		if err != nil {
			return nil, err
		}
	}
	nodes := make([]Node, 0, len(roots))
	for _, root := range roots {
		node, err := s.subtree(ctx, root)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *Service) subtree(ctx context.Context, a Account) (Node, error) {
	children, err := s.repo.ListChildren(ctx, &a.ID)
	if err != nil {
		return Node{}, err
	}
	node := Node{Account: a}
	for _, child := range children {
		sub, err := s.subtree(ctx, child)
		if err != nil {
			return Node{}, err
		}
		node.Children = append(node.Children, sub)
	}
	return node, nil
}

// Deactivate flips the active flag; postings to inactive accounts are
// rejected by the journal engine.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

// Activate re-enables a previously deactivated account.
func (s *Service) Activate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, true)
}
