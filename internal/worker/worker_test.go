package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"keygate/internal/chain"
	"keygate/internal/models"
	"keygate/internal/services"
	"keygate/internal/store"
)

const (
	testRegistry  = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
)

type sweepStore struct {
	mu         sync.Mutex
	retryable  []*models.Order
	missing    []*models.Order
	backfilled map[string]string
	orders     map[string]*models.Order
}

func newSweepStore() *sweepStore {
	return &sweepStore{
		backfilled: map[string]string{},
		orders:     map[string]*models.Order{},
	}
}

func (s *sweepStore) ListRetryable(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.retryable, nil
}

func (s *sweepStore) ListMissingTokenID(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.missing, nil
}

func (s *sweepStore) BackfillTokenID(ctx context.Context, orderID, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfilled[orderID] = tokenID
	return true, nil
}

func (s *sweepStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (s *sweepStore) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	return nil, pgx.ErrNoRows
}

func (s *sweepStore) AcquireIssuanceLock(ctx context.Context, orderID, token string, staleBefore time.Time) (bool, error) {
	return true, nil
}

func (s *sweepStore) ReleaseIssuanceLock(ctx context.Context, orderID, token string, outcome store.Outcome) (bool, error) {
	return true, nil
}

func (s *sweepStore) AppendAudit(ctx context.Context, orderID string, entry models.AuditEntry) error {
	return nil
}

// enumRPC answers balanceOf and tokenOfOwnerByIndex eth_calls by calldata
// length; the worker only issues those two reads.
type enumRPC struct {
	balance int64
	tokenID int64
}

func (r *enumRPC) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	word := make([]byte, 32)
	switch len(data) {
	case 4 + 32: // balanceOf(address)
		word[31] = byte(r.balance)
	case 4 + 64: // tokenOfOwnerByIndex(address,uint256)
		word[31] = byte(r.tokenID)
	}
	return word, nil
}

func (r *enumRPC) PendingNonce(ctx context.Context, addr string) (uint64, error) { return 0, nil }

func (r *enumRPC) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	return "", nil
}

func (r *enumRPC) TransactionReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	return nil, nil
}

func paidOrderMissingToken() *models.Order {
	return &models.Order{
		OrderID:          "order-1",
		RecipientAddress: testRecipient,
		RegistryAddress:  testRegistry,
		Status:           models.OrderPaid,
	}
}

func TestSweepBackfillsTokenFromEnumeration(t *testing.T) {
	t.Parallel()

	st := newSweepStore()
	st.missing = []*models.Order{paidOrderMissingToken()}

	w := &Worker{Store: st, Issuance: &services.IssuanceService{Store: st}, RPC: &enumRPC{balance: 1, tokenID: 99}}
	require.NoError(t, w.SweepOnce(context.Background()))
	require.Equal(t, "99", st.backfilled["order-1"])
}

func TestSweepSkipsZeroBalance(t *testing.T) {
	t.Parallel()

	st := newSweepStore()
	st.missing = []*models.Order{paidOrderMissingToken()}

	w := &Worker{Store: st, Issuance: &services.IssuanceService{Store: st}, RPC: &enumRPC{balance: 0}}
	require.NoError(t, w.SweepOnce(context.Background()))
	require.Empty(t, st.backfilled)
}

func TestSweepSkipsBackfillWithoutRPC(t *testing.T) {
	t.Parallel()

	st := newSweepStore()
	st.missing = []*models.Order{paidOrderMissingToken()}

	w := &Worker{Store: st, Issuance: &services.IssuanceService{Store: st}}
	require.NoError(t, w.SweepOnce(context.Background()))
	require.Empty(t, st.backfilled)
}

func TestRunZeroValueIntervalDoesNotPanic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &Worker{Store: newSweepStore(), Issuance: &services.IssuanceService{Store: newSweepStore()}}
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a cancelled context")
	}
}

func TestSweepRetriesPendingOrders(t *testing.T) {
	t.Parallel()

	// The retryable order is already paid by the time the sweeper re-drives
	// it, so the pipeline short-circuits without touching the chain.
	tx := "0xearlier"
	paid := &models.Order{OrderID: "order-2", Status: models.OrderPaid, TxnHash: &tx}
	st := newSweepStore()
	st.orders["order-2"] = paid
	st.retryable = []*models.Order{paid}

	w := &Worker{Store: st, Issuance: &services.IssuanceService{Store: st}}
	require.NoError(t, w.SweepOnce(context.Background()))
}
