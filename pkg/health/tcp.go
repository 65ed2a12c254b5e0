package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker verifies that a TCP port accepts connections, such as the ssh
// port of a backup source
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker with a 5 second timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check dials the address
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, fmt.Sprintf("connection failed: %v", err))
	}
	conn.Close()

	return passed(start, fmt.Sprintf("TCP connection to %s successful", t.Address))
}

// Type returns the probe type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
