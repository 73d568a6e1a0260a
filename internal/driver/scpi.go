package driver

import (
	"context"
	"strconv"
	"strings"

	"github.com/multiverse-labs/labctl/internal/transport"
)

// SCPI is the one piece of "dialect-adjacent" plumbing every line-oriented
// SCPI/ASCII driver needs: send-a-command and send-a-query framing over a
// shared Transport. Concrete dialects (command strings, parsing quirks)
// build on top of this rather than re-deriving it; dialect knowledge
// lives in the driver, not the transport.
type SCPI struct {
	T *transport.Transport
}

// Cmd sends a bare command with no reply expected.
func (s SCPI) Cmd(ctx context.Context, cmd string) error {
	return s.T.Write(ctx, cmd)
}

// Query sends cmd and returns the trimmed reply line.
func (s SCPI) Query(ctx context.Context, cmd string) (string, error) {
	reply, err := s.T.Query(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// QueryFloat sends cmd and parses the reply as a float64.
func (s SCPI) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	reply, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(reply, 64)
}

// QueryInt sends cmd and parses the reply as an int.
func (s SCPI) QueryInt(ctx context.Context, cmd string) (int, error) {
	reply, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(reply)
}
