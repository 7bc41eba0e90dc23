/*
Package sqlite provides a SQLite-backed implementation of the charge engine's
collaborator contracts.

PURPOSE:
  Implements the read-side contracts (JournalReader, LoanReader,
  ProductCatalog) and the RateStore over SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  service_charge_rates: Persisted rate table, keyed (kind, year, header)
  loans:                Loan snapshots
  loan_transactions:    Dated principal movements per loan
  journal_entries:      Tagged GL expense postings
  products:             Service-charge-fee flag per product
  installments:         Repayment schedule entries with charge amounts

AMOUNT STORAGE:
  Amounts are stored as TEXT and parsed with shopspring/decimal so no
  precision is lost round-tripping through the database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block and crash recovery is cleaner.

USAGE:
  store, err := sqlite.New("./data/charges.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - charge/types.go: Contract definitions
  - charge/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/charge-engine/charge"
)

const dateLayout = "2006-01-02"

// Store implements the charge engine contracts using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Persisted service charge rates
	CREATE TABLE IF NOT EXISTS service_charge_rates (
		period_kind TEXT NOT NULL,
		year INTEGER NOT NULL,
		header TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (period_kind, year, header)
	);

	-- Loans
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		disbursement_date TEXT NOT NULL,
		principal TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_disbursement
		ON loans(disbursement_date);

	-- Loan transactions (principal movements)
	CREATE TABLE IF NOT EXISTS loan_transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		tx_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loan_transactions_loan
		ON loan_transactions(loan_id, tx_date);

	-- GL expense postings
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		gl_account_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_debit BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_entries_date
		ON journal_entries(entry_date);

	-- Products
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		service_charge_applicable BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Installments
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		interest_recalculated BOOLEAN NOT NULL DEFAULT FALSE,
		charge_amount TEXT NOT NULL DEFAULT '0',
		charge_entry_id TEXT,
		UNIQUE (loan_id, number)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RATE STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, kind charge.PeriodKind, year int, header string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM service_charge_rates WHERE period_kind = ? AND year = ? AND header = ?`,
		string(kind), year, header).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, charge.ErrRateNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load rate: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (s *Store) Put(ctx context.Context, kind charge.PeriodKind, year int, header string, amount decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_charge_rates (period_kind, year, header, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (period_kind, year, header) DO UPDATE SET amount = excluded.amount`,
		string(kind), year, header, amount.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store rate: %w", err)
	}
	return nil
}

// =============================================================================
// LOAN READER
// =============================================================================

func (s *Store) LoansActiveIn(ctx context.Context, _, to charge.TimePoint) ([]charge.LoanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, disbursement_date, principal
		 FROM loans WHERE disbursement_date <= ? ORDER BY id`,
		to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []charge.LoanRecord
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range loans {
		txs, err := s.loanTransactions(ctx, loans[i].ID)
		if err != nil {
			return nil, err
		}
		loans[i].Transactions = txs
	}
	return loans, nil
}

func (s *Store) Loan(ctx context.Context, id charge.LoanID) (charge.LoanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, disbursement_date, principal FROM loans WHERE id = ?`,
		string(id))

	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return charge.LoanRecord{}, charge.ErrLoanNotFound
	}
	if err != nil {
		return charge.LoanRecord{}, err
	}

	txs, err := s.loanTransactions(ctx, loan.ID)
	if err != nil {
		return charge.LoanRecord{}, err
	}
	loan.Transactions = txs
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(r rowScanner) (charge.LoanRecord, error) {
	var (
		id, productID, disbursed, principal string
	)
	if err := r.Scan(&id, &productID, &disbursed, &principal); err != nil {
		return charge.LoanRecord{}, err
	}

	date, err := parseDate(disbursed)
	if err != nil {
		return charge.LoanRecord{}, err
	}
	amount, err := decimal.NewFromString(principal)
	if err != nil {
		return charge.LoanRecord{}, fmt.Errorf("bad principal for loan %s: %w", id, err)
	}
	return charge.LoanRecord{
		ID:               charge.LoanID(id),
		ProductID:        charge.ProductID(productID),
		DisbursementDate: date,
		Principal:        amount,
	}, nil
}

func (s *Store) loanTransactions(ctx context.Context, id charge.LoanID) ([]charge.LoanTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx_date, amount, tx_type FROM loan_transactions
		 WHERE loan_id = ? ORDER BY tx_date`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query loan transactions: %w", err)
	}
	defer rows.Close()

	var txs []charge.LoanTransaction
	for rows.Next() {
		var rawDate, rawAmount, rawType string
		if err := rows.Scan(&rawDate, &rawAmount, &rawType); err != nil {
			return nil, err
		}
		date, err := parseDate(rawDate)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("bad transaction amount for loan %s: %w", id, err)
		}
		txs = append(txs, charge.LoanTransaction{
			Date:   date,
			Amount: amount,
			Type:   charge.TransactionType(rawType),
		})
	}
	return txs, rows.Err()
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) IsServiceChargeProduct(ctx context.Context, id charge.ProductID) (bool, error) {
	var applicable bool
	err := s.db.QueryRowContext(ctx,
		`SELECT service_charge_applicable FROM products WHERE id = ?`,
		string(id)).Scan(&applicable)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query product: %w", err)
	}
	return applicable, nil
}

// =============================================================================
// JOURNAL READER
// =============================================================================

func (s *Store) LedgerPostings(ctx context.Context, from, to charge.TimePoint) ([]charge.LedgerPosting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gl_account_id, tag, entry_date, amount, is_debit
		 FROM journal_entries WHERE entry_date >= ? AND entry_date <= ?
		 ORDER BY entry_date`,
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var postings []charge.LedgerPosting
	for rows.Next() {
		var (
			account, tag, rawDate, rawAmount string
			debit                            bool
		)
		if err := rows.Scan(&account, &tag, &rawDate, &rawAmount, &debit); err != nil {
			return nil, err
		}
		date, err := parseDate(rawDate)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("bad posting amount on account %s: %w", account, err)
		}
		postings = append(postings, charge.LedgerPosting{
			GLAccountID: account,
			Tag:         tag,
			Date:        date,
			Amount:      amount,
			Debit:       debit,
		})
	}
	return postings, rows.Err()
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// Installments returns a loan's schedule ordered by installment number.
func (s *Store) Installments(ctx context.Context, id charge.LoanID) ([]charge.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, due_date, paid, interest_recalculated, charge_amount, COALESCE(charge_entry_id, '')
		 FROM installments WHERE loan_id = ? ORDER BY number`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []charge.Installment
	for rows.Next() {
		var (
			inst      charge.Installment
			rawDate   string
			rawAmount string
		)
		if err := rows.Scan(&inst.Number, &rawDate, &inst.Paid, &inst.InterestRecalculated, &rawAmount, &inst.ChargeEntryID); err != nil {
			return nil, err
		}
		date, err := parseDate(rawDate)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("bad installment charge for loan %s: %w", id, err)
		}
		inst.DueDate = date
		inst.Charge = amount
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SaveInstallments replaces a loan's schedule atomically. Used after charge
// redistribution so the stored schedule always reflects the latest entries.
func (s *Store) SaveInstallments(ctx context.Context, id charge.LoanID, installments []charge.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to clear installments: %w", err)
	}
	for _, inst := range installments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO installments (id, loan_id, number, due_date, paid, interest_recalculated, charge_amount, charge_entry_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), string(id), inst.Number, inst.DueDate.String(),
			inst.Paid, inst.InterestRecalculated, inst.Charge.String(), inst.ChargeEntryID); err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// SEEDING
// =============================================================================
// Write helpers used by data loaders and tests. The calculation engine itself
// only reads.

func (s *Store) InsertLoan(ctx context.Context, loan charge.LoanRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (id, product_id, disbursement_date, principal) VALUES (?, ?, ?, ?)`,
		string(loan.ID), string(loan.ProductID), loan.DisbursementDate.String(), loan.Principal.String())
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	for _, t := range loan.Transactions {
		if err := s.InsertLoanTransaction(ctx, loan.ID, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertLoanTransaction(ctx context.Context, id charge.LoanID, t charge.LoanTransaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loan_transactions (id, loan_id, tx_date, amount, tx_type) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), string(id), t.Date.String(), t.Amount.String(), string(t.Type))
	if err != nil {
		return fmt.Errorf("failed to insert loan transaction: %w", err)
	}
	return nil
}

func (s *Store) InsertJournalEntry(ctx context.Context, p charge.LedgerPosting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, gl_account_id, tag, entry_date, amount, is_debit)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), p.GLAccountID, p.Tag, p.Date.String(), p.Amount.String(), p.Debit)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (s *Store) UpsertProduct(ctx context.Context, id charge.ProductID, serviceCharge bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, service_charge_applicable) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET service_charge_applicable = excluded.service_charge_applicable`,
		string(id), serviceCharge)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func parseDate(raw string) (charge.TimePoint, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return charge.TimePoint{}, fmt.Errorf("bad date %q: %w", raw, err)
	}
	return charge.NewTimePoint(t.Year(), t.Month(), t.Day()), nil
}
