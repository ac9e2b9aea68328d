package network

import (
	"fmt"
	"net/url"
	"strings"
)

type Addr struct {
	Scheme string
	Path   string
}

// ParseUnixAddr parses unix:///path/to/socket.
func ParseUnixAddr(raw string) (*Addr, error) {
	if !strings.HasPrefix(raw, "unix://") {
		return nil, fmt.Errorf("scheme missing, expected format: unix:///path/to/socket")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("missing path")
	}

	return &Addr{
		Scheme: u.Scheme,
		Path:   u.Path,
	}, nil
}
