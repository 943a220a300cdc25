// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/retry"
)

// NodeClient представляет отдельный RPC узел
type NodeClient struct {
	Client *solanarpc.Client
	URL    string

	mutex  sync.RWMutex
	active bool

	successCount uint64
	errorCount   uint64
	latency      atomic.Int64
}

// NewNodeClient создает новый экземпляр NodeClient
func NewNodeClient(url string) *NodeClient {
	return &NodeClient{
		Client: solanarpc.New(url),
		URL:    url,
		active: true,
	}
}

// SetActive устанавливает статус активности узла
func (c *NodeClient) SetActive(state bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.active = state
}

// IsActive возвращает текущий статус активности узла
func (c *NodeClient) IsActive() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.active
}

// UpdateMetrics обновляет метрики узла
func (c *NodeClient) UpdateMetrics(success bool, latency time.Duration) {
	if success {
		atomic.AddUint64(&c.successCount, 1)
	} else {
		atomic.AddUint64(&c.errorCount, 1)
	}
	prev := time.Duration(c.latency.Load())
	c.latency.Store(int64((prev + latency) / 2))
}

// GetMetrics возвращает текущие метрики узла
func (c *NodeClient) GetMetrics() (uint64, uint64, time.Duration) {
	return atomic.LoadUint64(&c.successCount),
		atomic.LoadUint64(&c.errorCount),
		time.Duration(c.latency.Load())
}

// Pool представляет пул RPC клиентов с round-robin выбором узла
type Pool struct {
	clients []*NodeClient
	logger  *zap.Logger
	policy  retry.Policy

	mu        sync.Mutex
	currIndex int
}

// NewPool создает новый пул клиентов
func NewPool(urls []string, policy retry.Policy, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoActiveClients
	}
	clients := make([]*NodeClient, 0, len(urls))
	for _, url := range urls {
		clients = append(clients, NewNodeClient(url))
	}
	return &Pool{
		clients:   clients,
		logger:    logger.Named("rpc-pool"),
		policy:    policy,
		currIndex: -1,
	}, nil
}

// Clients возвращает узлы пула
func (p *Pool) Clients() []*NodeClient {
	return p.clients
}

// GetNextClient возвращает следующий активный клиент из пула.
// Если все узлы помечены неактивными, они реактивируются.
func (p *Pool) GetNextClient() *NodeClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.clients); i++ {
		p.currIndex = (p.currIndex + 1) % len(p.clients)
		if p.clients[p.currIndex].IsActive() {
			return p.clients[p.currIndex]
		}
	}

	p.logger.Warn("All RPC nodes inactive, reactivating")
	for _, c := range p.clients {
		c.SetActive(true)
	}
	p.currIndex = (p.currIndex + 1) % len(p.clients)
	return p.clients[p.currIndex]
}

// HasActiveClients проверяет наличие активных клиентов в пуле
func (p *Pool) HasActiveClients() bool {
	for _, client := range p.clients {
		if client.IsActive() {
			return true
		}
	}
	return false
}

// ExecuteWithRetry выполняет операцию по политике повторов, переключая узел
// после каждой транспортной ошибки. Неретраибельные ошибки возвращаются сразу.
func (p *Pool) ExecuteWithRetry(ctx context.Context, method string, operation func(*NodeClient) error) error {
	_, err := retry.Do(ctx, p.policy, func() (struct{}, error) {
		client := p.GetNextClient()

		start := time.Now()
		err := operation(client)
		client.UpdateMetrics(err == nil, time.Since(start))
		if err == nil {
			return struct{}{}, nil
		}

		wrapped := NewError(err, client.URL, method)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return struct{}{}, retry.Permanent(err)
		}
		if !IsRetryableError(wrapped) {
			return struct{}{}, retry.Permanent(wrapped)
		}
		if len(p.clients) > 1 {
			client.SetActive(false)
		}
		return struct{}{}, wrapped
	}, retry.WithLogger(p.logger, method))
	return err
}
