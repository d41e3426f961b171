// Package postgres implements the storage interfaces backed by PostgreSQL.
// Every Mutation runs in a single database transaction with wallet rows
// locked in lexicographic owner order.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/fairness"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.BurnStore = (*Store)(nil)
var _ storage.EscrowStore = (*Store)(nil)
var _ storage.ReconcileStore = (*Store)(nil)
var _ storage.FairnessStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// --- row types --------------------------------------------------------------

type walletRow struct {
	OwnerID       string       `db:"owner_id"`
	Balance       int64        `db:"balance"`
	StreakDays    int          `db:"streak_days"`
	LongestStreak int          `db:"longest_streak"`
	LastClaimAt   sql.NullTime `db:"last_claim_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r walletRow) toDomain() wallet.Wallet {
	w := wallet.Wallet{
		OwnerID:       r.OwnerID,
		Balance:       r.Balance,
		StreakDays:    r.StreakDays,
		LongestStreak: r.LongestStreak,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.LastClaimAt.Valid {
		w.LastClaimAt = r.LastClaimAt.Time.UTC()
	}
	return w
}

type journalRow struct {
	ID            string         `db:"id"`
	OwnerID       string         `db:"owner_id"`
	Direction     string         `db:"direction"`
	Amount        int64          `db:"amount"`
	Source        string         `db:"source"`
	RefID         sql.NullString `db:"ref_id"`
	RefType       sql.NullString `db:"ref_type"`
	BalanceBefore int64          `db:"balance_before"`
	BalanceAfter  int64          `db:"balance_after"`
	Metadata      []byte         `db:"metadata"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r journalRow) toDomain() wallet.JournalEntry {
	entry := wallet.JournalEntry{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Direction:     wallet.Direction(r.Direction),
		Amount:        r.Amount,
		Source:        wallet.Source(r.Source),
		RefID:         r.RefID.String,
		RefType:       r.RefType.String,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &entry.Metadata)
	}
	return entry
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) Apply(ctx context.Context, mut storage.Mutation) (storage.MutationResult, error) {
	if len(mut.Legs) == 0 {
		return storage.MutationResult{}, fmt.Errorf("mutation has no legs")
	}

	for _, leg := range mut.Legs {
		if leg.Amount <= 0 {
			return storage.MutationResult{}, ledgererr.InvalidAmount(leg.Amount)
		}
		if !leg.Source.ValidFor(leg.Direction) {
			return storage.MutationResult{}, ledgererr.InvalidSource(string(leg.Source), string(leg.Direction))
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.MutationResult{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	staged, err := s.lockWallets(ctx, tx, mut, now)
	if err != nil {
		return storage.MutationResult{}, err
	}

	entries := make([]wallet.JournalEntry, 0, len(mut.Legs))
	for _, leg := range mut.Legs {
		w := staged[leg.OwnerID]
		before := w.Balance
		switch leg.Direction {
		case wallet.Credit:
			w.Balance = before + leg.Amount
		case wallet.Debit:
			if before < leg.Amount {
				return storage.MutationResult{}, ledgererr.InsufficientFunds(leg.OwnerID, before, leg.Amount)
			}
			w.Balance = before - leg.Amount
		default:
			return storage.MutationResult{}, fmt.Errorf("unknown direction %q", leg.Direction)
		}
		w.UpdatedAt = now
		staged[leg.OwnerID] = w

		entry := wallet.JournalEntry{
			ID:            uuid.NewString(),
			OwnerID:       leg.OwnerID,
			Direction:     leg.Direction,
			Amount:        leg.Amount,
			Source:        leg.Source,
			RefID:         leg.RefID,
			RefType:       leg.RefType,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			Metadata:      leg.Metadata,
			CreatedAt:     now,
		}
		entries = append(entries, entry)

		metadataJSON, err := json.Marshal(entry.Metadata)
		if err != nil {
			return storage.MutationResult{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_journal (id, owner_id, direction, amount, source, ref_id, ref_type, balance_before, balance_after, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, entry.ID, entry.OwnerID, entry.Direction, entry.Amount, entry.Source,
			nullString(entry.RefID), nullString(entry.RefType),
			entry.BalanceBefore, entry.BalanceAfter, metadataJSON, entry.CreatedAt); err != nil {
			return storage.MutationResult{}, err
		}
	}

	for owner, w := range staged {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_wallets
			SET balance = $2, updated_at = $3
			WHERE owner_id = $1
		`, owner, w.Balance, w.UpdatedAt); err != nil {
			return storage.MutationResult{}, err
		}
	}

	if mut.Streak != nil {
		w, ok := staged[mut.Streak.OwnerID]
		if !ok {
			return storage.MutationResult{}, ledgererr.WalletNotFound(mut.Streak.OwnerID)
		}
		// LastClaimAt on the staged copy is the value read under FOR
		// UPDATE, so the dedup holds against concurrent claims even
		// when the caller's earlier read was stale.
		if mut.Streak.DailyClaim && !w.LastClaimAt.IsZero() && wallet.SameUTCDay(w.LastClaimAt, mut.Streak.LastClaimAt) {
			return storage.MutationResult{}, ledgererr.New(ledgererr.KindAlreadyResolved, "owner %s already claimed today", mut.Streak.OwnerID)
		}
		w.StreakDays = mut.Streak.StreakDays
		w.LongestStreak = mut.Streak.LongestStreak
		w.LastClaimAt = mut.Streak.LastClaimAt
		staged[mut.Streak.OwnerID] = w
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_wallets
			SET streak_days = $2, longest_streak = $3, last_claim_at = $4, updated_at = $5
			WHERE owner_id = $1
		`, w.OwnerID, w.StreakDays, w.LongestStreak, toNullTime(w.LastClaimAt), now); err != nil {
			return storage.MutationResult{}, err
		}
	}

	if mut.EscrowCreate != nil {
		if err := s.applyEscrowCreate(ctx, tx, mut.EscrowCreate, now); err != nil {
			return storage.MutationResult{}, err
		}
	}

	if mut.Escrow != nil {
		if err := s.applyEscrowTransition(ctx, tx, mut.Escrow, now); err != nil {
			return storage.MutationResult{}, err
		}
	}

	if mut.Burn != nil {
		if err := s.applyBurnRecord(ctx, tx, mut.Burn, entries, now); err != nil {
			return storage.MutationResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.MutationResult{}, err
	}

	return storage.MutationResult{Entries: entries, Wallets: staged}, nil
}

// lockWallets selects every wallet touched by the mutation FOR UPDATE, in
// lexicographic owner order, creating rows for credit legs that allow it.
func (s *Store) lockWallets(ctx context.Context, tx *sqlx.Tx, mut storage.Mutation, now time.Time) (map[string]wallet.Wallet, error) {
	allowCreate := make(map[string]bool)
	owners := make([]string, 0, len(mut.Legs))
	seen := make(map[string]bool)
	for _, leg := range mut.Legs {
		if !seen[leg.OwnerID] {
			seen[leg.OwnerID] = true
			owners = append(owners, leg.OwnerID)
		}
		if leg.Direction == wallet.Credit && leg.AllowCreate {
			allowCreate[leg.OwnerID] = true
		}
	}
	if mut.Streak != nil && !seen[mut.Streak.OwnerID] {
		owners = append(owners, mut.Streak.OwnerID)
	}
	sort.Strings(owners)

	staged := make(map[string]wallet.Wallet, len(owners))
	for _, owner := range owners {
		var row walletRow
		err := tx.GetContext(ctx, &row, `
			SELECT owner_id, balance, streak_days, longest_streak, last_claim_at, created_at, updated_at
			FROM ledger_wallets
			WHERE owner_id = $1
			FOR UPDATE
		`, owner)
		switch {
		case err == nil:
			staged[owner] = row.toDomain()
		case errors.Is(err, sql.ErrNoRows):
			if !allowCreate[owner] {
				return nil, ledgererr.WalletNotFound(owner)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_wallets (owner_id, balance, streak_days, longest_streak, created_at, updated_at)
				VALUES ($1, 0, 0, 0, $2, $2)
			`, owner, now); err != nil {
				return nil, err
			}
			staged[owner] = wallet.Wallet{OwnerID: owner, CreatedAt: now, UpdatedAt: now}
		default:
			return nil, err
		}
	}
	return staged, nil
}

func (s *Store) applyEscrowCreate(ctx context.Context, tx *sqlx.Tx, e *escrow.Entry, now time.Time) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_escrows (session_id, owner_id, stake, payout, status, resolution, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 'locked', '', $5, $6)
		ON CONFLICT (session_id) DO NOTHING
	`, e.SessionID, e.OwnerID, e.Stake, e.Payout, createdAt, toNullTime(e.ExpiresAt))
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ledgererr.New(ledgererr.KindDuplicateSession, "escrow session %s already exists", e.SessionID)
	}
	return nil
}

func (s *Store) applyEscrowTransition(ctx context.Context, tx *sqlx.Tx, tr *escrow.Transition, now time.Time) error {
	if !tr.To.Terminal() {
		return fmt.Errorf("escrow transition to non-terminal status %q", tr.To)
	}
	resolvedAt := tr.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = now
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_escrows
		SET status = $2, resolution = $3, resolved_at = $4
		WHERE session_id = $1 AND status = 'locked'
	`, tr.SessionID, tr.To, tr.Resolution, resolvedAt)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM ledger_escrows WHERE session_id = $1`, tr.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ledgererr.New(ledgererr.KindNotFound, "escrow session %s not found", tr.SessionID)
		}
		if err != nil {
			return err
		}
		return ledgererr.New(ledgererr.KindAlreadyResolved, "escrow session %s already %s", tr.SessionID, status)
	}
	return nil
}

func (s *Store) applyBurnRecord(ctx context.Context, tx *sqlx.Tx, rec *burn.Record, entries []wallet.JournalEntry, now time.Time) error {
	var categoriesRaw []byte
	if err := tx.GetContext(ctx, &categoriesRaw, `
		SELECT categories FROM ledger_burn_sink WHERE id = 1 FOR UPDATE
	`); err != nil {
		return err
	}
	categories := make(map[string]int64)
	if len(categoriesRaw) > 0 {
		_ = json.Unmarshal(categoriesRaw, &categories)
	}
	categories[rec.Category] += rec.Burned
	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_burn_sink
		SET total_burned = total_burned + $1,
		    total_gross = total_gross + $2,
		    categories = $3,
		    last_burn_at = $4,
		    last_burned_amount = $1,
		    last_category = $5,
		    updated_at = $4
		WHERE id = 1
	`, rec.Burned, rec.Gross, categoriesJSON, now, rec.Category); err != nil {
		return err
	}

	settlement := rec.Settlement
	if settlement.ID == "" {
		settlement.ID = uuid.NewString()
	}
	if len(settlement.JournalIDs) == 0 {
		for _, e := range entries {
			settlement.JournalIDs = append(settlement.JournalIDs, e.ID)
		}
	}
	journalIDsJSON, err := json.Marshal(settlement.JournalIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_settlements (id, payer_id, payee_id, gross, net, burned, category, journal_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, settlement.ID, nullString(settlement.PayerID), settlement.PayeeID,
		settlement.Gross, settlement.Net, settlement.Burned, settlement.Category, journalIDsJSON, now)
	return err
}

func (s *Store) GetWallet(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	var row walletRow
	err := s.db.GetContext(ctx, &row, `
		SELECT owner_id, balance, streak_days, longest_streak, last_claim_at, created_at, updated_at
		FROM ledger_wallets
		WHERE owner_id = $1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Wallet{}, ledgererr.WalletNotFound(ownerID)
	}
	if err != nil {
		return wallet.Wallet{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) EnsureWallet(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_wallets (owner_id, balance, streak_days, longest_streak, created_at, updated_at)
		VALUES ($1, 0, 0, 0, $2, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID, now); err != nil {
		return wallet.Wallet{}, err
	}
	return s.GetWallet(ctx, ownerID)
}

func (s *Store) ListWallets(ctx context.Context) ([]wallet.Wallet, error) {
	var rows []walletRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT owner_id, balance, streak_days, longest_streak, last_claim_at, created_at, updated_at
		FROM ledger_wallets
		ORDER BY owner_id
	`); err != nil {
		return nil, err
	}
	result := make([]wallet.Wallet, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) UpdateStreak(ctx context.Context, upd wallet.StreakUpdate) (wallet.Wallet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_wallets
		SET streak_days = $2, longest_streak = $3, last_claim_at = $4, updated_at = $5
		WHERE owner_id = $1
	`, upd.OwnerID, upd.StreakDays, upd.LongestStreak, toNullTime(upd.LastClaimAt), time.Now().UTC())
	if err != nil {
		return wallet.Wallet{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return wallet.Wallet{}, ledgererr.WalletNotFound(upd.OwnerID)
	}
	return s.GetWallet(ctx, upd.OwnerID)
}

func (s *Store) ListJournal(ctx context.Context, ownerID string, limit int) ([]wallet.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []journalRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, direction, amount, source, ref_id, ref_type, balance_before, balance_after, metadata, created_at
		FROM ledger_journal
		WHERE $1 = '' OR owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit); err != nil {
		return nil, err
	}
	result := make([]wallet.JournalEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) JournalTotals(ctx context.Context) (int64, int64, error) {
	var totals struct {
		Credits int64 `db:"credits"`
		Debits  int64 `db:"debits"`
	}
	err := s.db.GetContext(ctx, &totals, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'credit'), 0) AS credits,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'debit'), 0) AS debits
		FROM ledger_journal
	`)
	if err != nil {
		return 0, 0, err
	}
	return totals.Credits, totals.Debits, nil
}

func (s *Store) JournalCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM ledger_journal`); err != nil {
		return 0, err
	}
	return count, nil
}

// --- BurnStore --------------------------------------------------------------

type sinkRow struct {
	TotalBurned   int64        `db:"total_burned"`
	TotalGross    int64        `db:"total_gross"`
	Categories    []byte       `db:"categories"`
	LastBurnAt    sql.NullTime `db:"last_burn_at"`
	LastBurnedAmt int64        `db:"last_burned_amount"`
	LastCategory  string       `db:"last_category"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

func (s *Store) GetSink(ctx context.Context) (burn.Sink, error) {
	var row sinkRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT total_burned, total_gross, categories, last_burn_at, last_burned_amount, last_category, updated_at
		FROM ledger_burn_sink
		WHERE id = 1
	`); err != nil {
		return burn.Sink{}, err
	}
	sink := burn.Sink{
		TotalBurned:   row.TotalBurned,
		TotalGross:    row.TotalGross,
		ByCategory:    make(map[string]int64),
		LastBurnedAmt: row.LastBurnedAmt,
		LastCategory:  row.LastCategory,
	}
	if len(row.Categories) > 0 {
		_ = json.Unmarshal(row.Categories, &sink.ByCategory)
	}
	if row.LastBurnAt.Valid {
		sink.LastBurnAt = row.LastBurnAt.Time.UTC()
	}
	if row.UpdatedAt.Valid {
		sink.UpdatedAt = row.UpdatedAt.Time.UTC()
	}
	return sink, nil
}

type settlementRow struct {
	ID         string         `db:"id"`
	PayerID    sql.NullString `db:"payer_id"`
	PayeeID    string         `db:"payee_id"`
	Gross      int64          `db:"gross"`
	Net        int64          `db:"net"`
	Burned     int64          `db:"burned"`
	Category   string         `db:"category"`
	JournalIDs []byte         `db:"journal_ids"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r settlementRow) toDomain() burn.Settlement {
	st := burn.Settlement{
		ID:        r.ID,
		PayerID:   r.PayerID.String,
		PayeeID:   r.PayeeID,
		Gross:     r.Gross,
		Net:       r.Net,
		Burned:    r.Burned,
		Category:  r.Category,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(r.JournalIDs) > 0 {
		_ = json.Unmarshal(r.JournalIDs, &st.JournalIDs)
	}
	return st
}

func (s *Store) GetSettlement(ctx context.Context, id string) (burn.Settlement, error) {
	var row settlementRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, payer_id, payee_id, gross, net, burned, category, journal_ids, created_at
		FROM ledger_settlements
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return burn.Settlement{}, ledgererr.New(ledgererr.KindNotFound, "settlement %s not found", id)
	}
	if err != nil {
		return burn.Settlement{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSettlements(ctx context.Context, limit int) ([]burn.Settlement, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []settlementRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, payer_id, payee_id, gross, net, burned, category, journal_ids, created_at
		FROM ledger_settlements
		ORDER BY created_at DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}
	result := make([]burn.Settlement, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- EscrowStore ------------------------------------------------------------

type escrowRow struct {
	SessionID  string       `db:"session_id"`
	OwnerID    string       `db:"owner_id"`
	Stake      int64        `db:"stake"`
	Payout     int64        `db:"payout"`
	Status     string       `db:"status"`
	Resolution string       `db:"resolution"`
	CreatedAt  time.Time    `db:"created_at"`
	ExpiresAt  sql.NullTime `db:"expires_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

func (r escrowRow) toDomain() escrow.Entry {
	e := escrow.Entry{
		SessionID:  r.SessionID,
		OwnerID:    r.OwnerID,
		Stake:      r.Stake,
		Payout:     r.Payout,
		Status:     escrow.Status(r.Status),
		Resolution: r.Resolution,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ExpiresAt.Valid {
		e.ExpiresAt = r.ExpiresAt.Time.UTC()
	}
	if r.ResolvedAt.Valid {
		e.ResolvedAt = r.ResolvedAt.Time.UTC()
	}
	return e
}

func (s *Store) CreateEscrow(ctx context.Context, e escrow.Entry) (escrow.Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Status = escrow.StatusLocked
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_escrows (session_id, owner_id, stake, payout, status, resolution, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $7)
		ON CONFLICT (session_id) DO NOTHING
	`, e.SessionID, e.OwnerID, e.Stake, e.Payout, e.Status, e.CreatedAt, toNullTime(e.ExpiresAt))
	if err != nil {
		return escrow.Entry{}, err
	}
	stored, err := s.GetEscrow(ctx, e.SessionID)
	if err != nil {
		return escrow.Entry{}, err
	}
	if !stored.CreatedAt.Equal(e.CreatedAt) || stored.OwnerID != e.OwnerID {
		return escrow.Entry{}, ledgererr.New(ledgererr.KindDuplicateSession, "escrow session %s already exists", e.SessionID)
	}
	return stored, nil
}

func (s *Store) GetEscrow(ctx context.Context, sessionID string) (escrow.Entry, error) {
	var row escrowRow
	err := s.db.GetContext(ctx, &row, `
		SELECT session_id, owner_id, stake, payout, status, resolution, created_at, expires_at, resolved_at
		FROM ledger_escrows
		WHERE session_id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Entry{}, ledgererr.New(ledgererr.KindNotFound, "escrow session %s not found", sessionID)
	}
	if err != nil {
		return escrow.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListEscrows(ctx context.Context, status escrow.Status) ([]escrow.Entry, error) {
	var rows []escrowRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, owner_id, stake, payout, status, resolution, created_at, expires_at, resolved_at
		FROM ledger_escrows
		WHERE $1 = '' OR status = $1
		ORDER BY created_at
	`, string(status)); err != nil {
		return nil, err
	}
	result := make([]escrow.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListExpiredEscrows(ctx context.Context, now time.Time) ([]escrow.Entry, error) {
	var rows []escrowRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, owner_id, stake, payout, status, resolution, created_at, expires_at, resolved_at
		FROM ledger_escrows
		WHERE status = 'locked' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
	`, now.UTC()); err != nil {
		return nil, err
	}
	result := make([]escrow.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- ReconcileStore ---------------------------------------------------------

type snapshotRow struct {
	ID            string    `db:"id"`
	Credits       int64     `db:"credits"`
	Debits        int64     `db:"debits"`
	NetMinted     int64     `db:"net_minted"`
	WalletTotal   int64     `db:"wallet_total"`
	SinkBalance   int64     `db:"sink_balance"`
	Allocated     int64     `db:"allocated"`
	Variance      int64     `db:"variance"`
	Health        string    `db:"health"`
	SettledGross  int64     `db:"settled_gross"`
	TotalBurned   int64     `db:"total_burned"`
	ExpectedBurn  int64     `db:"expected_burn"`
	BurnRateDrift int64     `db:"burn_rate_drift"`
	BurnRateOK    bool      `db:"burn_rate_ok"`
	Frozen        bool      `db:"frozen"`
	Note          string    `db:"note"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r snapshotRow) toDomain() reconcile.Snapshot {
	return reconcile.Snapshot{
		ID:            r.ID,
		Credits:       r.Credits,
		Debits:        r.Debits,
		NetMinted:     r.NetMinted,
		WalletTotal:   r.WalletTotal,
		SinkBalance:   r.SinkBalance,
		Allocated:     r.Allocated,
		Variance:      r.Variance,
		Health:        reconcile.Health(r.Health),
		SettledGross:  r.SettledGross,
		TotalBurned:   r.TotalBurned,
		ExpectedBurn:  r.ExpectedBurn,
		BurnRateDrift: r.BurnRateDrift,
		BurnRateOK:    r.BurnRateOK,
		Frozen:        r.Frozen,
		Note:          r.Note,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, snap reconcile.Snapshot) (reconcile.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, credits, debits, net_minted, wallet_total, sink_balance, allocated, variance, health,
			settled_gross, total_burned, expected_burn, burn_rate_drift, burn_rate_ok, frozen, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, snap.ID, snap.Credits, snap.Debits, snap.NetMinted, snap.WalletTotal, snap.SinkBalance, snap.Allocated,
		snap.Variance, snap.Health, snap.SettledGross, snap.TotalBurned, snap.ExpectedBurn, snap.BurnRateDrift,
		snap.BurnRateOK, snap.Frozen, snap.Note, snap.CreatedAt)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	return snap, nil
}

const snapshotColumns = `id, credits, debits, net_minted, wallet_total, sink_balance, allocated, variance, health,
	settled_gross, total_burned, expected_burn, burn_rate_drift, burn_rate_ok, frozen, note, created_at`

func (s *Store) LatestSnapshot(ctx context.Context) (reconcile.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+snapshotColumns+`
		FROM ledger_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return reconcile.Snapshot{}, ledgererr.New(ledgererr.KindNotFound, "no reconciliation snapshots recorded")
	}
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]reconcile.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+snapshotColumns+`
		FROM ledger_snapshots
		ORDER BY created_at DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}
	result := make([]reconcile.Snapshot, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ledger_snapshots
		WHERE id NOT IN (
			SELECT id FROM ledger_snapshots ORDER BY created_at DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

type freezeRow struct {
	Frozen    bool         `db:"frozen"`
	Reason    string       `db:"reason"`
	FrozenAt  sql.NullTime `db:"frozen_at"`
	ClearedAt sql.NullTime `db:"cleared_at"`
	Note      string       `db:"note"`
}

func (r freezeRow) toDomain() reconcile.Freeze {
	f := reconcile.Freeze{Frozen: r.Frozen, Reason: r.Reason, Note: r.Note}
	if r.FrozenAt.Valid {
		f.FrozenAt = r.FrozenAt.Time.UTC()
	}
	if r.ClearedAt.Valid {
		f.ClearedAt = r.ClearedAt.Time.UTC()
	}
	return f
}

func (s *Store) GetFreeze(ctx context.Context) (reconcile.Freeze, error) {
	var row freezeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT frozen, reason, frozen_at, cleared_at, note FROM ledger_freeze WHERE id = 1
	`); err != nil {
		return reconcile.Freeze{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SetFreeze(ctx context.Context, reason string, at time.Time) (reconcile.Freeze, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE ledger_freeze
		SET frozen = TRUE, reason = $1, frozen_at = $2, cleared_at = NULL, note = ''
		WHERE id = 1 AND frozen = FALSE
	`, reason, at.UTC()); err != nil {
		return reconcile.Freeze{}, err
	}
	return s.GetFreeze(ctx)
}

func (s *Store) ClearFreeze(ctx context.Context, note string, at time.Time) (reconcile.Freeze, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE ledger_freeze
		SET frozen = FALSE, reason = '', cleared_at = $1, note = $2
		WHERE id = 1
	`, at.UTC(), note); err != nil {
		return reconcile.Freeze{}, err
	}
	return s.GetFreeze(ctx)
}

// --- FairnessStore ----------------------------------------------------------

type commitRow struct {
	ID             string       `db:"id"`
	SessionID      string       `db:"session_id"`
	ServerSecret   string       `db:"server_secret"`
	ServerSeedHash string       `db:"server_seed_hash"`
	ClientSeed     string       `db:"client_seed"`
	Nonce          int64        `db:"nonce"`
	Roll           float64      `db:"roll"`
	Revealed       bool         `db:"revealed"`
	Resolved       bool         `db:"resolved"`
	CreatedAt      time.Time    `db:"created_at"`
	RevealedAt     sql.NullTime `db:"revealed_at"`
}

func (r commitRow) toDomain() fairness.Commit {
	c := fairness.Commit{
		ID:             r.ID,
		SessionID:      r.SessionID,
		ServerSecret:   r.ServerSecret,
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		Nonce:          r.Nonce,
		Roll:           r.Roll,
		Revealed:       r.Revealed,
		Resolved:       r.Resolved,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.RevealedAt.Valid {
		c.RevealedAt = r.RevealedAt.Time.UTC()
	}
	return c
}

const commitColumns = `id, session_id, server_secret, server_seed_hash, client_seed, nonce, roll, revealed, resolved, created_at, revealed_at`

func (s *Store) CreateCommit(ctx context.Context, c fairness.Commit) (fairness.Commit, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_rng_commits (`+commitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.SessionID, c.ServerSecret, c.ServerSeedHash, c.ClientSeed, c.Nonce, c.Roll,
		c.Revealed, c.Resolved, c.CreatedAt, toNullTime(c.RevealedAt))
	if err != nil {
		return fairness.Commit{}, err
	}
	return c, nil
}

func (s *Store) GetCommit(ctx context.Context, id string) (fairness.Commit, error) {
	var row commitRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+commitColumns+` FROM ledger_rng_commits WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "commit %s not found", id)
	}
	if err != nil {
		return fairness.Commit{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) LatestCommitForSession(ctx context.Context, sessionID string) (fairness.Commit, error) {
	var row commitRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+commitColumns+`
		FROM ledger_rng_commits
		WHERE session_id = $1
		ORDER BY nonce DESC
		LIMIT 1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "no commits for session %s", sessionID)
	}
	if err != nil {
		return fairness.Commit{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateCommit(ctx context.Context, c fairness.Commit) (fairness.Commit, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_rng_commits
		SET revealed = $2, resolved = $3, revealed_at = $4
		WHERE id = $1
	`, c.ID, c.Revealed, c.Resolved, toNullTime(c.RevealedAt))
	if err != nil {
		return fairness.Commit{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "commit %s not found", c.ID)
	}
	return s.GetCommit(ctx, c.ID)
}

// --- helpers ----------------------------------------------------------------

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
