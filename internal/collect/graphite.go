package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// GraphiteSink delivers metrics as Graphite plaintext lines over TCP,
// caching one connection per configured address.
// Params: addresses, write timeout, and logger.
// Returns: sink implementation.
type GraphiteSink struct {
	addrs   []string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn

	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewGraphiteSink creates a Graphite plaintext sink.
// Params: addrs destination host:port list; timeout per-write deadline;
// logger for delivery errors.
// Returns: sink instance.
func NewGraphiteSink(addrs []string, timeout time.Duration, logger *slog.Logger) *GraphiteSink {
	return &GraphiteSink{
		addrs:   addrs,
		timeout: timeout,
		logger:  logger,
		conns:   make(map[string]net.Conn),
		dial:    net.DialTimeout,
	}
}

// Publish writes one plaintext line to every configured address.
// Params: ctx is checked for cancellation before writing; metric payload.
// Returns: first delivery error when present.
func (s *GraphiteSink) Publish(ctx context.Context, metric Metric) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	line := encodeLine(metric)

	var firstErr error
	for _, addr := range s.addrs {
		if err := s.writeLine(addr, line); err != nil {
			s.logger.Error(
				"graphite delivery failed",
				slog.String("addr", addr),
				slog.String("path", metric.Path),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes all cached connections and clears the cache.
// Params: none.
// Returns: first close error when present.
func (s *GraphiteSink) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]net.Conn)
	s.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// encodeLine renders one Graphite plaintext line.
// Params: metric payload with formatting precision.
// Returns: "path value timestamp\n" line.
func encodeLine(metric Metric) []byte {
	value := strconv.FormatFloat(metric.Value, 'f', metric.Precision, 64)
	return []byte(metric.Path + " " + value + " " + strconv.FormatInt(metric.Time, 10) + "\n")
}

// writeLine sends one line to a single address, redialing once when the
// cached connection went stale.
// Params: addr destination host:port; line encoded plaintext line.
// Returns: dial or write error.
func (s *GraphiteSink) writeLine(addr string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[addr]
	if ok {
		if err := writeWithDeadline(conn, line, s.timeout); err == nil {
			return nil
		}
		_ = conn.Close()
		delete(s.conns, addr)
	}

	conn, err := s.dial("tcp", addr, s.timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := writeWithDeadline(conn, line, s.timeout); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write %s: %w", addr, err)
	}

	s.conns[addr] = conn
	return nil
}

// writeWithDeadline writes one payload under a write deadline.
// Params: conn open connection; payload bytes; timeout write deadline.
// Returns: deadline or write error.
func writeWithDeadline(conn net.Conn, payload []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(payload)
	return err
}
