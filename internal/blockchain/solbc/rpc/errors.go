// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoActiveClients возникает, когда нет доступных активных клиентов
	ErrNoActiveClients = errors.New("no active RPC clients available")

	// ErrRateLimit возникает при превышении лимита запросов
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout возникает при превышении времени ожидания
	ErrTimeout = errors.New("request timeout")

	// ErrConnectionFailed возникает при ошибке подключения
	ErrConnectionFailed = errors.New("connection failed")
)

// Error представляет ошибку RPC с дополнительным контекстом
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

// Unwrap возвращает оригинальную ошибку
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создает новую ошибку RPC, приводя транспортные ошибки к sentinel значениям
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     classify(err),
		NodeURL: nodeURL,
		Method:  method,
	}
}

// classify оборачивает ошибку в ErrRateLimit/ErrTimeout/ErrConnectionFailed, сохраняя цепочку
func classify(err error) error {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimit, err)
		case httpErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return err
}

// IsRetryableError определяет, можно ли повторить операцию при данной ошибке
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrConnectionFailed) {
		return true
	}

	// JSON-RPC ошибки узла (например, неверные параметры) повторять бессмысленно
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
