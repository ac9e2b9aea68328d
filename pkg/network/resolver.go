package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

var errNoAddress = errors.New("no address found")

// ResolutionError reports that a host name produced no usable address.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve host %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectError reports that none of the resolved addresses accepted a
// connection. Err is the failure of the last address tried.
type ConnectError struct {
	Host  string
	Port  uint16
	Addrs []string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to %s (tried %d address(es)): %v",
		net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port))), len(e.Addrs), e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Resolve returns the candidate addresses of host:port in resolver order.
func Resolve(ctx context.Context, host string, port uint16) ([]string, error) {
	portStr := strconv.Itoa(int(port))
	if ip := net.ParseIP(host); ip != nil {
		return []string{net.JoinHostPort(host, portStr)}, nil
	}

	hosts, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}
	if len(hosts) == 0 {
		return nil, &ResolutionError{Host: host, Err: errNoAddress}
	}

	addrs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addrs = append(addrs, net.JoinHostPort(h, portStr))
	}
	return addrs, nil
}

// Dial connects to the first address of host:port that accepts within
// timeout. The timeout applies to each candidate separately.
func Dial(ctx context.Context, host string, port uint16, timeout time.Duration) (net.Conn, error) {
	addrs, err := Resolve(ctx, host, port)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logrus.Debugf("connected to %s", addr)
			return conn, nil
		}
		logrus.Debugf("connect to %s failed: %v", addr, err)
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &ConnectError{Host: host, Port: port, Addrs: addrs, Err: lastErr}
}
