package federation

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

const (
	initialBackoff = 10 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Client is the federation client half of spec §4.H, satisfying
// engine.Federation. It takes no lock of its own and every RPC opens its
// own connection. The engine does not serialize ReportNewCoverage and
// ReportCrash calls; it calls GetUpdates, SaveState and LoadState, the
// only methods touching lastTimestamp, under its queue lock.
type Client struct {
	addr string

	clientID uint64
	// instanceID is operator-facing only: logged for fleet correlation, not
	// part of the wire protocol (the numeric clientID remains the spec's
	// identity used for server-side bookkeeping).
	instanceID uuid.UUID

	lastTimestamp uint64
	dialTimeout   time.Duration
}

// NewClient returns a Client that talks to the federation server at addr
// ("host[:port]", default port DefaultPort if unspecified).
func NewClient(addr string) *Client {
	c := &Client{
		addr:        normalizeAddr(addr),
		instanceID:  uuid.New(),
		dialTimeout: 30 * time.Second,
	}
	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		panic("federation: failed to generate client id: " + err.Error())
	}
	c.clientID = binary.LittleEndian.Uint64(idBuf[:])
	xlog.Logf(0, "federation client %s starting, instance %s", c.addr, c.instanceID)
	return c
}

// connect opens a connection, sends command, and blocks with exponential
// backoff until the server replies 'K' (proceed) rather than 'W' (over
// capacity) — spec §4.H's connect handshake.
func (c *Client) connect(command byte) (net.Conn, error) {
	backoff := initialBackoff
	for {
		conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
		if err == nil {
			if _, werr := conn.Write([]byte{command}); werr == nil {
				reply, rerr := readByte(conn)
				if rerr == nil {
					if reply == replyProceed {
						return conn, nil
					}
					if reply != replyBackoff {
						conn.Close()
						return nil, fmt.Errorf("federation: unexpected handshake reply %q", reply)
					}
				}
			}
			conn.Close()
		} else {
			xlog.Logf(1, "federation: connect to %s failed: %v", c.addr, err)
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// ReportNewCoverage implements engine.Federation.
func (c *Client) ReportNewCoverage(cov *coverage.Coverage, s *sample.Sample) error {
	conn, err := c.connect(cmdReportCoverage)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeCoverage(conn, cov); err != nil {
		return fmt.Errorf("federation: sending coverage: %w", err)
	}

	reply, err := readByte(conn)
	if err != nil {
		return fmt.Errorf("federation: reading novelty reply: %w", err)
	}
	if reply == replyNotNovel {
		return nil
	}
	if reply != replyNovel {
		return fmt.Errorf("federation: unexpected novelty reply %q", reply)
	}

	if s != nil {
		if err := writeByte(conn, frameSample); err != nil {
			return err
		}
		if err := writeSample(conn, s); err != nil {
			return fmt.Errorf("federation: sending sample: %w", err)
		}
	}
	return writeByte(conn, frameEnd)
}

// ReportCrash implements engine.Federation.
func (c *Client) ReportCrash(s *sample.Sample, desc string) error {
	conn, err := c.connect(cmdReportCrash)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeByte(conn, frameSample); err != nil {
		return err
	}
	if err := writeSample(conn, s); err != nil {
		return fmt.Errorf("federation: sending crash sample: %w", err)
	}
	if err := writeString(conn, desc); err != nil {
		return fmt.Errorf("federation: sending crash description: %w", err)
	}
	return writeByte(conn, frameEnd)
}

// GetUpdates implements engine.Federation.
func (c *Client) GetUpdates(totalExecs, lastTimestamp uint64) ([][]byte, uint64, error) {
	conn, err := c.connect(cmdUpdateRequest)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	if err := writeU64(conn, c.clientID); err != nil {
		return nil, 0, err
	}
	if err := writeU64(conn, totalExecs); err != nil {
		return nil, 0, err
	}
	if err := writeU64(conn, lastTimestamp); err != nil {
		return nil, 0, err
	}

	serverTimestamp, err := readU64(conn)
	if err != nil {
		return nil, 0, fmt.Errorf("federation: reading server timestamp: %w", err)
	}

	var samples [][]byte
	for {
		reply, err := readByte(conn)
		if err != nil {
			return nil, 0, fmt.Errorf("federation: reading update stream: %w", err)
		}
		if reply == frameEnd {
			break
		}
		if reply != frameSample {
			return nil, 0, fmt.Errorf("federation: unexpected update frame byte %q", reply)
		}
		s, err := readSample(conn)
		if err != nil {
			return nil, 0, fmt.Errorf("federation: reading update sample: %w", err)
		}
		samples = append(samples, s.Bytes())
	}

	c.lastTimestamp = serverTimestamp
	return samples, serverTimestamp, nil
}

// SaveState writes the client's own checkpoint fragment (client id and last
// seen server timestamp) into the engine's checkpoint stream.
func (c *Client) SaveState(w io.Writer) error {
	if err := writeU64(w, c.clientID); err != nil {
		return err
	}
	return writeU64(w, c.lastTimestamp)
}

// LoadState restores the fragment written by SaveState.
func (c *Client) LoadState(r io.Reader) error {
	clientID, err := readU64(r)
	if err != nil {
		return err
	}
	lastTimestamp, err := readU64(r)
	if err != nil {
		return err
	}
	c.clientID = clientID
	c.lastTimestamp = lastTimestamp
	return nil
}

func normalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr, DefaultPort)
}
