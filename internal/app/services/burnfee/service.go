// Package burnfee implements the fee-burn settlement: every settled gross
// amount loses a fixed cut to the burn sink before the remainder reaches
// the payee.
package burnfee

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/services/ledger"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// Service composes fee-burn settlements and routes them through the engine.
type Service struct {
	engine *ledger.Engine
	burns  storage.BurnStore
	log    *logger.Logger
}

func NewService(engine *ledger.Engine, burns storage.BurnStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("burnfee")
	}
	return &Service{engine: engine, burns: burns, log: log}
}

// SettleRequest pays a gross amount to a payee with the burn cut applied.
// PayerID is optional: when empty the gross is newly created (a house
// payout); when set the payer funds the whole gross.
type SettleRequest struct {
	PayerID  string
	PayeeID  string
	Gross    int64
	Category string
	RefID    string
	Metadata map[string]string
}

// Result reports the applied split.
type Result struct {
	Settlement burn.Settlement
	Payee      wallet.Wallet
}

// Settle applies the three-way split in one atomic unit: payer debit (if
// any), payee net credit and sink burn credit, plus the settlement record
// and sink counter advance.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (Result, error) {
	payer := strings.TrimSpace(req.PayerID)
	payee := strings.TrimSpace(req.PayeeID)
	if payee == "" {
		return Result{}, ledgererr.New(ledgererr.KindWalletNotFound, "payee id is required")
	}
	if payer != "" && payer == payee {
		return Result{}, ledgererr.New(ledgererr.KindSelfTransaction, "payer and payee are both %s", payer)
	}
	if req.Gross <= 0 {
		return Result{}, ledgererr.InvalidAmount(req.Gross)
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "settlement"
	}

	burned, net := burn.Split(req.Gross)
	mut := storage.Mutation{}
	if payer != "" {
		mut.Legs = append(mut.Legs, wallet.Leg{
			OwnerID:   payer,
			Direction: wallet.Debit,
			Amount:    req.Gross,
			Source:    wallet.SourceSettlement,
			RefID:     req.RefID,
			RefType:   "settlement",
			Metadata:  req.Metadata,
		})
	}
	if net > 0 {
		mut.Legs = append(mut.Legs, wallet.Leg{
			OwnerID:     payee,
			Direction:   wallet.Credit,
			Amount:      net,
			Source:      wallet.SourceSettlementNet,
			RefID:       req.RefID,
			RefType:     "settlement",
			Metadata:    req.Metadata,
			AllowCreate: true,
		})
	}
	if burned > 0 {
		mut.Legs = append(mut.Legs, wallet.Leg{
			OwnerID:   wallet.SinkOwnerID,
			Direction: wallet.Credit,
			Amount:    burned,
			Source:    wallet.SourceBurn,
			RefID:     req.RefID,
			RefType:   "settlement",
		})
	}
	mut.Burn = &burn.Record{
		Category: category,
		Gross:    req.Gross,
		Burned:   burned,
		Settlement: burn.Settlement{
			ID:       uuid.NewString(),
			PayerID:  payer,
			PayeeID:  payee,
			Gross:    req.Gross,
			Net:      net,
			Burned:   burned,
			Category: category,
		},
	}

	result, err := s.engine.Apply(ctx, "settle", mut)
	if err != nil {
		return Result{}, err
	}
	s.log.WithField("payee", payee).
		WithField("gross", req.Gross).
		WithField("burned", burned).
		Info("settlement applied")

	st := mut.Burn.Settlement
	for _, entry := range result.Entries {
		st.JournalIDs = append(st.JournalIDs, entry.ID)
	}
	return Result{Settlement: st, Payee: result.Wallets[payee]}, nil
}

// Sink returns the aggregate burn counters.
func (s *Service) Sink(ctx context.Context) (burn.Sink, error) {
	return s.burns.GetSink(ctx)
}

// Settlement returns one settlement record by id.
func (s *Service) Settlement(ctx context.Context, id string) (burn.Settlement, error) {
	return s.burns.GetSettlement(ctx, id)
}

// Settlements lists recent settlement records.
func (s *Service) Settlements(ctx context.Context, limit int) ([]burn.Settlement, error) {
	return s.burns.ListSettlements(ctx, limit)
}
