package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/economato/stock-ledger/internal/outbox"
)

type memoryStore struct {
	// mu serializes transactions the way the product row lock does.
	mu        sync.Mutex
	products  map[int64]decimal.Decimal
	snapshots map[int64]Snapshot
	entries   map[int64][]Entry
	events    []outbox.Event
	nextID    int64

	// lockFailures injects that many ErrLockUnavailable results before
	// LockProduct succeeds again.
	lockFailures int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products:  make(map[int64]decimal.Decimal),
		snapshots: make(map[int64]Snapshot),
		entries:   make(map[int64][]Entry),
	}
}

func (m *memoryStore) seedProduct(id int64, qty string) {
	m.products[id] = decimal.RequireFromString(qty)
}

type memoryTx struct {
	store     *memoryStore
	products  map[int64]decimal.Decimal
	snapshots map[int64]Snapshot
	entries   map[int64][]Entry
	events    []outbox.Event
	nextID    int64
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		store:     m,
		products:  make(map[int64]decimal.Decimal, len(m.products)),
		snapshots: make(map[int64]Snapshot, len(m.snapshots)),
		entries:   make(map[int64][]Entry, len(m.entries)),
		events:    append([]outbox.Event(nil), m.events...),
		nextID:    m.nextID,
	}
	for id, qty := range m.products {
		tx.products[id] = qty
	}
	for id, snap := range m.snapshots {
		tx.snapshots[id] = snap
	}
	for id, chain := range m.entries {
		tx.entries[id] = append([]Entry(nil), chain...)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.products = tx.products
	m.snapshots = tx.snapshots
	m.entries = tx.entries
	m.events = tx.events
	m.nextID = tx.nextID
	return nil
}

func (tx *memoryTx) LockProduct(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if tx.store.lockFailures > 0 {
		tx.store.lockFailures--
		return decimal.Zero, ErrLockUnavailable
	}
	qty, ok := tx.products[productID]
	if !ok {
		return decimal.Zero, ErrProductNotFound
	}
	return qty, nil
}

func (tx *memoryTx) GetSnapshot(ctx context.Context, productID int64) (Snapshot, error) {
	snap, ok := tx.snapshots[productID]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (tx *memoryTx) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx.snapshots[snap.ProductID] = snap
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	tx.nextID++
	entry.ID = tx.nextID
	tx.entries[entry.ProductID] = append(tx.entries[entry.ProductID], entry)
	return entry.ID, nil
}

func (tx *memoryTx) MirrorProductStock(ctx context.Context, productID int64, quantity decimal.Decimal) error {
	tx.products[productID] = quantity
	return nil
}

func (tx *memoryTx) AppendAuditEvent(ctx context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, evt)
	return nil
}

func (tx *memoryTx) DeleteEntries(ctx context.Context, productID int64) (int64, error) {
	n := int64(len(tx.entries[productID]))
	delete(tx.entries, productID)
	return n, nil
}

func (tx *memoryTx) DeleteSnapshot(ctx context.Context, productID int64) error {
	delete(tx.snapshots, productID)
	return nil
}

func (m *memoryStore) ListEntries(ctx context.Context, productID int64) ([]Entry, error) {
	return append([]Entry(nil), m.entries[productID]...), nil
}

func (m *memoryStore) GetSnapshot(ctx context.Context, productID int64) (Snapshot, error) {
	snap, ok := m.snapshots[productID]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (m *memoryStore) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	snaps := make([]Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (m *memoryStore) UpdateIntegrity(ctx context.Context, productID int64, status IntegrityStatus, verifiedAt time.Time) error {
	snap, ok := m.snapshots[productID]
	if !ok {
		return ErrSnapshotNotFound
	}
	snap.IntegrityStatus = status
	snap.LastVerifiedAt = verifiedAt
	m.snapshots[productID] = snap
	return nil
}

func newTestService(store *memoryStore) *Service {
	return NewService(store, nil, nil, nil, ServiceConfig{RetryBackoff: time.Millisecond})
}

func TestRecordMovementBuildsChain(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.RecordMovement(ctx, MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(100), Type: MovementReceipt, Description: "initial delivery",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.SequenceNumber)
	require.Equal(t, GenesisHash, first.PreviousHash)
	require.Equal(t, "100.000", first.ResultingQuantity.StringFixed(3))

	second, err := svc.RecordMovement(ctx, MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(-30), Type: MovementConsumption, Description: "lunch service",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.SequenceNumber)
	require.Equal(t, first.CurrentHash, second.PreviousHash)
	require.Equal(t, "70.000", second.ResultingQuantity.StringFixed(3))

	third, err := svc.RecordMovement(ctx, MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(50), Type: MovementReceipt,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), third.SequenceNumber)
	require.Equal(t, second.CurrentHash, third.PreviousHash)
	require.Equal(t, "120.000", third.ResultingQuantity.StringFixed(3))

	snap, err := store.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "120.000", snap.CurrentQuantity.StringFixed(3))
	require.Equal(t, third.CurrentHash, snap.LastHash)
	require.Equal(t, int64(3), snap.LastSequenceNumber)
	require.Equal(t, StatusValid, snap.IntegrityStatus)

	// The product mirror follows the snapshot.
	require.Equal(t, "120.000", store.products[1].StringFixed(3))

	// Every committed movement stages one audit event.
	require.Len(t, store.events, 3)
	require.Equal(t, outbox.TopicInventoryAudit, store.events[0].Topic)

	result, err := svc.VerifyChain(ctx, 1)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.EntriesChecked)
}

func TestRecordMovementInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "10")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(-30), Type: MovementConsumption,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	entries, err := store.ListEntries(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, store.events)
	require.Equal(t, "10.000", store.products[1].StringFixed(3))
}

func TestRecordMovementConsumeToZero(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "30")
	svc := newTestService(store)

	entry, err := svc.RecordMovement(context.Background(), MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(-30), Type: MovementConsumption,
	})
	require.NoError(t, err)
	require.True(t, entry.ResultingQuantity.IsZero())
}

func TestRecordMovementValidation(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "10")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.Zero, Type: MovementReceipt})
	require.ErrorIs(t, err, ErrZeroDelta)

	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(1), Type: MovementType("TRANSFER")})
	require.ErrorIs(t, err, ErrUnknownMovementType)

	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: 0, QuantityDelta: decimal.NewFromInt(1), Type: MovementReceipt})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: 99, QuantityDelta: decimal.NewFromInt(1), Type: MovementReceipt})
	require.ErrorIs(t, err, ErrProductNotFound)

	entries, err := store.ListEntries(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRecordBatchMovementAtomic(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "100")
	store.seedProduct(2, "5")
	store.seedProduct(3, "100")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordBatchMovement(ctx, BatchInput{
		Reason: "dinner service",
		Items: []BatchItem{
			{ProductID: 1, QuantityDelta: decimal.NewFromInt(-10), Type: MovementConsumption},
			{ProductID: 2, QuantityDelta: decimal.NewFromInt(-50), Type: MovementConsumption},
			{ProductID: 3, QuantityDelta: decimal.NewFromInt(-10), Type: MovementConsumption},
		},
	})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 1, batchErr.Index)
	require.Equal(t, int64(2), batchErr.ProductID)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing committed for any product, not even the passing first item.
	for _, id := range []int64{1, 2, 3} {
		entries, err := store.ListEntries(ctx, id)
		require.NoError(t, err)
		require.Empty(t, entries)
	}
	require.Equal(t, "100.000", store.products[1].StringFixed(3))
}

func TestRecordBatchMovementSuccess(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "100")
	store.seedProduct(2, "50")
	svc := newTestService(store)
	ctx := context.Background()

	entries, err := svc.RecordBatchMovement(ctx, BatchInput{
		Reason:        "dinner service",
		CorrelationID: "4d1b8e0e-8e4f-4f6c-9f1a-0b6a3f1a2b3c",
		Items: []BatchItem{
			{ProductID: 2, QuantityDelta: decimal.NewFromInt(-5), Type: MovementConsumption},
			{ProductID: 1, QuantityDelta: decimal.NewFromInt(-10), Type: MovementConsumption, Description: "rice"},
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Item order is preserved even though locks are taken in id order.
	require.Equal(t, int64(2), entries[0].ProductID)
	require.Equal(t, int64(1), entries[1].ProductID)
	require.Equal(t, "dinner service", entries[0].Description)
	require.Equal(t, "rice", entries[1].Description)
	require.Equal(t, "4d1b8e0e-8e4f-4f6c-9f1a-0b6a3f1a2b3c", entries[0].CorrelationID)

	require.Equal(t, "45.000", store.products[2].StringFixed(3))
	require.Equal(t, "90.000", store.products[1].StringFixed(3))
}

func TestRecordBatchMovementUnknownProduct(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "100")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordBatchMovement(ctx, BatchInput{
		Reason: "dinner service",
		Items: []BatchItem{
			{ProductID: 1, QuantityDelta: decimal.NewFromInt(-10), Type: MovementConsumption},
			{ProductID: 99, QuantityDelta: decimal.NewFromInt(-5), Type: MovementConsumption},
		},
	})

	// The missing product surfaces as an item-indexed batch rejection, not a
	// bare not-found.
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 1, batchErr.Index)
	require.Equal(t, int64(99), batchErr.ProductID)
	require.ErrorIs(t, err, ErrProductNotFound)

	entries, listErr := store.ListEntries(ctx, 1)
	require.NoError(t, listErr)
	require.Empty(t, entries)
	require.Equal(t, "100.000", store.products[1].StringFixed(3))
}

func TestRecordBatchMovementEmpty(t *testing.T) {
	svc := newTestService(newMemoryStore())

	_, err := svc.RecordBatchMovement(context.Background(), BatchInput{})
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRecordMovementRetriesTransientConflicts(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	store.lockFailures = 2
	svc := newTestService(store)

	entry, err := svc.RecordMovement(context.Background(), MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(10), Type: MovementReceipt,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.SequenceNumber)
	require.Zero(t, store.lockFailures)
}

func TestRecordMovementRetryExhaustion(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	store.lockFailures = 10
	svc := NewService(store, nil, nil, nil, ServiceConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		ProductID: 1, QuantityDelta: decimal.NewFromInt(10), Type: MovementReceipt,
	})
	require.ErrorIs(t, err, ErrLockUnavailable)

	entries, listErr := store.ListEntries(context.Background(), 1)
	require.NoError(t, listErr)
	require.Empty(t, entries)
}

func TestRollbackMovement(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(100), Type: MovementReceipt})
	require.NoError(t, err)
	bad, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(-40), Type: MovementConsumption})
	require.NoError(t, err)

	// A rollback is a new forward entry reversing the delta, never an edit.
	rollback, err := svc.RecordMovement(ctx, MovementInput{
		ProductID: 1, QuantityDelta: bad.QuantityDelta.Neg(), Type: MovementRollback,
		Description: "reverses entry 2",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), rollback.SequenceNumber)
	require.Equal(t, "100.000", rollback.ResultingQuantity.StringFixed(3))

	result, err := svc.VerifyChain(ctx, 1)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.EntriesChecked)
}

func TestResetLedger(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(100), Type: MovementReceipt})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(-20), Type: MovementConsumption})
	require.NoError(t, err)

	dropped, err := svc.ResetLedger(ctx, 1, 42)
	require.NoError(t, err)
	require.Equal(t, int64(2), dropped)

	entries, err := store.ListEntries(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = store.GetSnapshot(ctx, 1)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	// The mirrored quantity survives the reset, so the next chain restarts
	// from genesis with the current physical stock.
	require.Equal(t, "80.000", store.products[1].StringFixed(3))

	entry, err := svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(5), Type: MovementReceipt})
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.SequenceNumber)
	require.Equal(t, GenesisHash, entry.PreviousHash)
	require.Equal(t, "85.000", entry.ResultingQuantity.StringFixed(3))
}

func TestGetCurrentStockUncached(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "0")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.GetCurrentStock(ctx, 1)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = svc.RecordMovement(ctx, MovementInput{ProductID: 1, QuantityDelta: decimal.NewFromInt(7), Type: MovementReceipt})
	require.NoError(t, err)

	snap, err := svc.GetCurrentStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "7.000", snap.CurrentQuantity.StringFixed(3))
}

func TestConcurrentMovementsKeepSequencesGapFree(t *testing.T) {
	store := newMemoryStore()
	store.seedProduct(1, "100")
	svc := newTestService(store)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordMovement(ctx, MovementInput{
				ProductID: 1, QuantityDelta: decimal.NewFromInt(5), Type: MovementReceipt,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	entries, err := store.ListEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, workers)

	seen := make(map[int64]bool, workers)
	hashes := make(map[string]bool, workers)
	for _, entry := range entries {
		seen[entry.SequenceNumber] = true
		hashes[entry.CurrentHash] = true
	}
	for seq := int64(1); seq <= workers; seq++ {
		require.True(t, seen[seq], "missing sequence %d", seq)
	}
	require.Len(t, hashes, workers)

	snap, err := store.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "200.000", snap.CurrentQuantity.StringFixed(3))
	require.Equal(t, int64(workers), snap.LastSequenceNumber)

	result, err := svc.VerifyChain(ctx, 1)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, workers, result.EntriesChecked)
}

func TestLockOrder(t *testing.T) {
	ids := lockOrder([]BatchItem{
		{ProductID: 9}, {ProductID: 3}, {ProductID: 9}, {ProductID: 1},
	})
	require.Equal(t, []int64{1, 3, 9}, ids)
}
