package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AccountStore provides access to accounts and their ledger. The balance is
// mutated exclusively through Debit.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id int64) (*Account, error) {
	query := `
		SELECT id, panel_uuid, chat_id, balance_cents, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	acct := &Account{}
	var panelUUID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&acct.ID, &panelUUID, &acct.ChatID, &acct.BalanceCents,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	acct.PanelUUID = panelUUID.String

	return acct, nil
}

// Debit atomically subtracts amountCents from the account balance. The
// balance check and the decrement happen in a single UPDATE so two
// concurrent debits can never drive the balance negative. Returns
// ErrInsufficientFunds when the balance cannot cover the amount and
// ErrNotFound when the account does not exist.
func (s *AccountStore) Debit(ctx context.Context, accountID, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amountCents)
	}

	query := `
		UPDATE accounts
		SET balance_cents = balance_cents - $2, updated_at = NOW()
		WHERE id = $1 AND balance_cents >= $2
	`
	result, err := s.db.ExecContext(ctx, query, accountID, amountCents)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing account from a short balance.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check account existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		return ErrInsufficientFunds
	}

	return nil
}

// AppendLedgerEntry records an immutable monetary movement for an account.
func (s *AccountStore) AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (account_id, amount_cents, direction, category, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		entry.AccountID, entry.AmountCents, entry.Direction, entry.Category, entry.Description,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}
