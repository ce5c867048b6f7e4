// Package client is the embedded pub/sub client: it dials the broker,
// frames commands, awaits verdicts, and buffers inbound DATA frames for the
// caller. Only the bytes it exchanges with the broker are specified by the
// wire protocol; this surface is an ordinary Go convenience wrapper around
// internal/wire.
package client

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/outcatcher/gopsub/internal/wire"
)

// ErrVerdict is returned when the broker responds to a command with ERR.
type ErrVerdict struct {
	Cmd   string
	Topic string
	Extra []string
}

func (e *ErrVerdict) Error() string {
	return fmt.Sprintf("broker rejected %s on %q: %v", e.Cmd, e.Topic, e.Extra)
}

// Client is a single connection to a broker.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	// sendMu serializes command/verdict round trips: a client issues one
	// command at a time and waits for the paired verdict before the next.
	sendMu sync.Mutex

	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	readErr error
	errMu   sync.Mutex
}

// inboundQueueSize bounds the channel client.Messages() reads from; once it
// is full, further DATA payloads are dropped (see enqueueData).
const inboundQueueSize = 256

// Dial connects to the broker at addr. It starts no background reader:
// frames are read by each command's round trip, or by the goroutine that
// StartReceiving launches.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		inbound: make(chan []byte, inboundQueueSize),
		done:    make(chan struct{}),
	}
	return c
}

// Publish sends a PUB command and waits for its verdict.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.roundTrip(wire.FormatPublish(topic, payload), wire.VerbPublish, topic)
}

// Subscribe sends a SUB command and waits for its verdict. After it
// returns nil, messages published to topic arrive through Messages/Receive.
func (c *Client) Subscribe(topic string) error {
	return c.roundTrip(wire.FormatSubscribe(topic), wire.VerbSubscribe, topic)
}

// Unsubscribe sends a USUB command and waits for its verdict.
func (c *Client) Unsubscribe(topic string) error {
	return c.roundTrip(wire.FormatUnsubscribe(topic), wire.VerbUnsubscribe, topic)
}

// roundTrip sends body and blocks for the single verdict frame that
// answers it. Because the broker's reader serializes replies per
// connection, and this client serializes sends via sendMu, the next frame
// this client reads after a send is always that command's own verdict
// (any DATA frames arriving first are queued into inbound as usual).
func (c *Client) roundTrip(body []byte, cmd, topic string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	frame, err := wire.Encode(body)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", cmd, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("client: write %s: %w", cmd, err)
	}

	for {
		reply, err := wire.Decode(c.reader)
		if err != nil {
			return fmt.Errorf("client: read verdict for %s: %w", cmd, err)
		}

		if wire.IsData(reply) {
			c.enqueueData(wire.DataPayload(reply))
			continue
		}

		verdict, err := wire.ParseVerdict(reply)
		if err != nil {
			return fmt.Errorf("client: parse verdict for %s: %w", cmd, err)
		}
		if verdict.Verdict != wire.VerdictOK {
			return &ErrVerdict{Cmd: verdict.Cmd, Topic: verdict.Topic, Extra: verdict.Extra}
		}
		return nil
	}
}

func (c *Client) enqueueData(payload []byte) {
	select {
	case c.inbound <- payload:
	default:
		// Consumer isn't draining Messages(); drop rather than block the
		// connection that also carries verdicts.
	}
}

// Messages returns a channel of payloads from DATA frames, both those read
// while a roundTrip waits for its verdict and those read by the
// StartReceiving goroutine (the steady-state subscriber path once no
// command is in flight). Call StartReceiving before relying on this.
func (c *Client) Messages() <-chan []byte {
	return c.inbound
}

// StartReceiving launches a background goroutine that reads frames off the
// connection and feeds DATA payloads into Messages(); it runs until Close
// or a read error. Call this once, after any initial Subscribe calls.
func (c *Client) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			body, err := wire.Decode(c.reader)
			if err != nil {
				c.setReadErr(err)
				return
			}
			if wire.IsData(body) {
				c.enqueueData(wire.DataPayload(body))
			}
			// Unsolicited, non-DATA frames (stray verdicts after Close)
			// are ignored.
		}
	}()
}

func (c *Client) setReadErr(err error) {
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

// ReadErr returns the error that stopped the background receiver, if any.
func (c *Client) ReadErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Receive waits up to timeout for a single message. A zero timeout blocks
// indefinitely.
func (c *Client) Receive(timeout time.Duration) ([]byte, bool) {
	if timeout <= 0 {
		msg, ok := <-c.inbound
		return msg, ok
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-c.inbound:
		return msg, ok
	case <-timer.C:
		return nil, false
	}
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}
