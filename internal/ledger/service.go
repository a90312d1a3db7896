package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/economato/stock-ledger/internal/outbox"
)

// MetricsPort receives ledger operation outcomes.
type MetricsPort interface {
	MovementRecorded(movementType, outcome string)
	ChainVerified(valid bool)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxRetries bounds retries on transient lock/serialization conflicts.
	MaxRetries int
	// RetryBackoff is the pause between retry attempts.
	RetryBackoff time.Duration
}

// Service orchestrates movements against the hash-chained ledger. All
// mutations run under the product row lock inside a serializable transaction.
type Service struct {
	store   Store
	cache   *SnapshotCache
	logger  *slog.Logger
	metrics MetricsPort
	cfg     ServiceConfig
}

// NewService builds a Service. Cache and metrics may be nil.
func NewService(store Store, cache *SnapshotCache, logger *slog.Logger, metrics MetricsPort, cfg ServiceConfig) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger, metrics: metrics, cfg: cfg}
}

// RecordMovement appends a single quantity change to the product chain and
// returns the persisted entry. No entry is written when the movement would
// drive stock negative.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Entry, error) {
	if err := validateMovement(input.ProductID, input.QuantityDelta, input.Type); err != nil {
		s.observeMovement(input.Type, "rejected")
		return Entry{}, err
	}

	var entry Entry
	err := s.withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			appended, err := s.appendMovement(ctx, tx, input)
			if err != nil {
				return err
			}
			entry = appended
			return nil
		})
	})
	if err != nil {
		s.observeMovement(input.Type, "failed")
		return Entry{}, err
	}

	s.cache.Invalidate(ctx, input.ProductID)
	s.observeMovement(input.Type, "recorded")
	s.logger.Info("movement recorded",
		slog.Int64("product_id", entry.ProductID),
		slog.Int64("sequence", entry.SequenceNumber),
		slog.String("type", string(entry.MovementType)),
		slog.String("hash", shortHash(entry.CurrentHash)))
	return entry, nil
}

// RecordBatchMovement applies an ordered list of movements across multiple
// products in one transaction. All-or-nothing: any failing item rejects the
// whole batch and no entry is written for any product. Products are locked in
// ascending id order so overlapping batches cannot deadlock.
func (s *Service) RecordBatchMovement(ctx context.Context, input BatchInput) ([]Entry, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	if input.CorrelationID == "" {
		input.CorrelationID = uuid.NewString()
	}
	for i, item := range input.Items {
		if err := validateMovement(item.ProductID, item.QuantityDelta, item.Type); err != nil {
			return nil, &BatchError{Index: i, ProductID: item.ProductID, Err: err}
		}
	}

	var entries []Entry
	err := s.withRetry(ctx, func() error {
		entries = entries[:0]
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			for _, productID := range lockOrder(input.Items) {
				if _, err := tx.LockProduct(ctx, productID); err != nil {
					if isTransient(err) {
						return err
					}
					return &BatchError{Index: itemIndex(input.Items, productID), ProductID: productID, Err: err}
				}
			}
			for i, item := range input.Items {
				description := item.Description
				if description == "" {
					description = input.Reason
				}
				entry, err := s.appendMovement(ctx, tx, MovementInput{
					ProductID:     item.ProductID,
					QuantityDelta: item.QuantityDelta,
					Type:          item.Type,
					Description:   description,
					ActorID:       input.ActorID,
					CorrelationID: input.CorrelationID,
				})
				if err != nil {
					if isTransient(err) {
						return err
					}
					return &BatchError{Index: i, ProductID: item.ProductID, Err: err}
				}
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		s.cache.Invalidate(ctx, entry.ProductID)
		s.observeMovement(entry.MovementType, "recorded")
	}
	s.logger.Info("batch recorded",
		slog.Int("items", len(entries)),
		slog.String("correlation_id", input.CorrelationID))
	return entries, nil
}

// GetCurrentStock returns the snapshot for a product, served from the redis
// read-through cache when warm.
func (s *Service) GetCurrentStock(ctx context.Context, productID int64) (Snapshot, error) {
	if snap, ok := s.cache.Get(ctx, productID); ok {
		return snap, nil
	}
	snap, err := s.store.GetSnapshot(ctx, productID)
	if err != nil {
		return Snapshot{}, err
	}
	s.cache.Set(ctx, snap)
	return snap, nil
}

// GetHistory returns the full chain for a product in sequence order.
func (s *Service) GetHistory(ctx context.Context, productID int64) ([]Entry, error) {
	return s.store.ListEntries(ctx, productID)
}

// ResetLedger deletes every entry and the snapshot for a product so the chain
// restarts from genesis on the next movement. The product's mirrored quantity
// is left untouched. Destructive and deliberately loud; restricted to admin
// callers at the HTTP layer.
func (s *Service) ResetLedger(ctx context.Context, productID int64, actorID int64) (int64, error) {
	if productID <= 0 {
		return 0, ErrProductNotFound
	}

	var dropped int64
	err := s.withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			if _, err := tx.LockProduct(ctx, productID); err != nil {
				return err
			}
			n, err := tx.DeleteEntries(ctx, productID)
			if err != nil {
				return err
			}
			dropped = n
			if err := tx.DeleteSnapshot(ctx, productID); err != nil {
				return err
			}
			payload, err := json.Marshal(LedgerResetEvent{
				ProductID:      productID,
				EntriesDropped: n,
				ActorID:        actorID,
				ResetAt:        time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			return tx.AppendAuditEvent(ctx, outbox.Event{
				Topic:   outbox.TopicInventoryAudit,
				Key:     fmt.Sprintf("reset:%d", productID),
				Payload: payload,
			})
		})
	})
	if err != nil {
		return 0, err
	}

	s.cache.Invalidate(ctx, productID)
	s.logger.Warn("ledger history reset",
		slog.Int64("product_id", productID),
		slog.Int64("entries_dropped", dropped),
		slog.Int64("actor_id", actorID))
	return dropped, nil
}

// appendMovement performs one append under an already-open transaction:
// lock, lazy snapshot, non-negativity guard, digest, entry, snapshot update,
// product mirror, outbox event.
func (s *Service) appendMovement(ctx context.Context, tx TxStore, input MovementInput) (Entry, error) {
	productQty, err := tx.LockProduct(ctx, input.ProductID)
	if err != nil {
		return Entry{}, err
	}

	snap, err := tx.GetSnapshot(ctx, input.ProductID)
	if errors.Is(err, ErrSnapshotNotFound) {
		snap = Snapshot{
			ProductID:       input.ProductID,
			CurrentQuantity: productQty,
			LastHash:        GenesisHash,
			IntegrityStatus: StatusUnverified,
		}
	} else if err != nil {
		return Entry{}, err
	}

	newQuantity := snap.CurrentQuantity.Add(input.QuantityDelta)
	if newQuantity.IsNegative() {
		return Entry{}, fmt.Errorf("%w: current %s, requested %s",
			ErrInsufficientStock, snap.CurrentQuantity.StringFixed(quantityScale), input.QuantityDelta.Abs().StringFixed(quantityScale))
	}

	// The timestamp is captured once, at digest precision, and never
	// recomputed: it is part of the hash input.
	recordedAt := chainTimestamp()
	sequence := snap.LastSequenceNumber + 1
	previousHash := snap.LastHash

	entry := Entry{
		ProductID:         input.ProductID,
		SequenceNumber:    sequence,
		QuantityDelta:     input.QuantityDelta,
		ResultingQuantity: newQuantity,
		MovementType:      input.Type,
		Description:       input.Description,
		PreviousHash:      previousHash,
		CurrentHash:       ChainDigest(input.ProductID, input.QuantityDelta, newQuantity, recordedAt, previousHash, sequence),
		RecordedAt:        recordedAt,
		ActorID:           input.ActorID,
		CorrelationID:     input.CorrelationID,
	}

	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	snap.CurrentQuantity = newQuantity
	snap.LastHash = entry.CurrentHash
	snap.LastSequenceNumber = sequence
	snap.LastUpdated = recordedAt
	snap.IntegrityStatus = StatusValid
	if err := tx.SaveSnapshot(ctx, snap); err != nil {
		return Entry{}, err
	}

	if err := tx.MirrorProductStock(ctx, input.ProductID, newQuantity); err != nil {
		return Entry{}, err
	}

	payload, err := json.Marshal(MovementRecordedEvent{
		ProductID:         entry.ProductID,
		SequenceNumber:    entry.SequenceNumber,
		QuantityDelta:     entry.QuantityDelta.StringFixed(quantityScale),
		ResultingQuantity: entry.ResultingQuantity.StringFixed(quantityScale),
		MovementType:      string(entry.MovementType),
		Description:       entry.Description,
		CurrentHash:       entry.CurrentHash,
		RecordedAt:        entry.RecordedAt,
		ActorID:           entry.ActorID,
		CorrelationID:     entry.CorrelationID,
	})
	if err != nil {
		return Entry{}, err
	}
	err = tx.AppendAuditEvent(ctx, outbox.Event{
		Topic:   outbox.TopicInventoryAudit,
		Key:     fmt.Sprintf("movement:%d:%d", entry.ProductID, entry.SequenceNumber),
		Payload: payload,
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// withRetry re-runs fn on transient lock and serialization conflicts, bounded
// by MaxRetries, so callers see "resource busy" only after the orchestrator
// gave the contended lock a fair chance.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
			s.logger.Warn("retrying ledger transaction",
				slog.Int("attempt", attempt),
				slog.Any("cause", err))
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, ErrLockUnavailable) || errors.Is(err, ErrTxSerialization)
}

func validateMovement(productID int64, delta decimal.Decimal, movementType MovementType) error {
	if productID <= 0 {
		return ErrProductNotFound
	}
	if delta.IsZero() {
		return ErrZeroDelta
	}
	if !movementType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMovementType, movementType)
	}
	return nil
}

// itemIndex returns the position of the first batch item for a product.
func itemIndex(items []BatchItem, productID int64) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return 0
}

// lockOrder returns the distinct product ids of a batch in ascending order.
func lockOrder(items []BatchItem) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Service) observeMovement(movementType MovementType, outcome string) {
	if s.metrics != nil {
		s.metrics.MovementRecorded(string(movementType), outcome)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
