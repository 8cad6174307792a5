package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MultiEthClient fans calls out to one of several node endpoints, rotating
// to the next endpoint after consecutive failures. The issuance pipeline
// treats a public RPC provider as freely replaceable, so every method only
// promises results from whichever node currently answers.
type MultiEthClient struct {
	clients       []*EthClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiEthClient(endpoints []string, failThreshold int) (*MultiEthClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*EthClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewEthClient(ep))
	}
	return &MultiEthClient{
		clients:       clients,
		failThreshold: failThreshold,
	}, nil
}

func (m *MultiEthClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

// do runs fn against the current endpoint, rotating through the ring on
// failure until every endpoint has been tried once.
func (m *MultiEthClient) do(fn func(c *EthClient) error) error {
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		client, idx := m.current()
		err := fn(client)
		if err == nil {
			m.resetFailures(idx)
			return nil
		}
		lastErr = err
		if m.noteFailure(idx) || len(m.clients) > 1 {
			m.rotate()
		}
	}
	return lastErr
}

func (m *MultiEthClient) BlockNumber(ctx context.Context) (int64, error) {
	var out int64
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.BlockNumber(ctx)
		return err
	})
	return out, err
}

func (m *MultiEthClient) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	var out []byte
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.CallContract(ctx, to, data)
		return err
	})
	return out, err
}

func (m *MultiEthClient) PendingNonce(ctx context.Context, addr string) (uint64, error) {
	var out uint64
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.PendingNonce(ctx, addr)
		return err
	})
	return out, err
}

func (m *MultiEthClient) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var out string
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.SendRawTransaction(ctx, rawTx)
		return err
	})
	return out, err
}

func (m *MultiEthClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var out *Receipt
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.TransactionReceipt(ctx, hash)
		return err
	})
	return out, err
}

func (m *MultiEthClient) TransactionByHash(ctx context.Context, hash string) (*PaymentTx, error) {
	var out *PaymentTx
	err := m.do(func(c *EthClient) error {
		var err error
		out, err = c.TransactionByHash(ctx, hash)
		return err
	})
	return out, err
}

var _ RPC = (*MultiEthClient)(nil)

func (m *MultiEthClient) current() (*EthClient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiEthClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiEthClient) noteFailure(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
	return m.failCount >= m.failThreshold
}

func (m *MultiEthClient) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
