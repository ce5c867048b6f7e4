package client

import (
	"bufio"
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/outcatcher/gopsub/internal/wire"
)

// fakeBroker is a minimal server-side stand-in that speaks the same wire
// grammar a real session.Session would, letting these tests exercise Client
// without booting a full transport.Listener.
type fakeBroker struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPipeClient(t *testing.T) (*Client, *fakeBroker) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	c := newClient(clientConn)
	return c, &fakeBroker{conn: serverConn, r: bufio.NewReader(serverConn)}
}

func (f *fakeBroker) readCommand(t *testing.T) wire.Command {
	t.Helper()
	body, err := wire.Decode(f.r)
	if err != nil {
		t.Fatalf("broker decode: %v", err)
	}
	cmd, err := wire.ParseCommand(body)
	if err != nil {
		t.Fatalf("broker parse: %v", err)
	}
	return cmd
}

func (f *fakeBroker) sendVerdict(verdict, cmd, topic string) {
	frame, _ := wire.Encode(wire.FormatVerdict(verdict, cmd, topic))
	f.conn.Write(frame)
}

func (f *fakeBroker) sendData(payload []byte) {
	frame, _ := wire.Encode(wire.FormatData(payload))
	f.conn.Write(frame)
}

func TestSubscribeRoundTrip(t *testing.T) {
	c, srv := newPipeClient(t)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := srv.readCommand(t)
		if cmd.Verb != wire.VerbSubscribe || cmd.Topic != "weather" {
			t.Errorf("unexpected command: %+v", cmd)
		}
		srv.sendVerdict(wire.VerdictOK, wire.VerbSubscribe, "weather")
	}()

	if err := c.Subscribe("weather"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-done
}

func TestPublishRejectedByBroker(t *testing.T) {
	c, srv := newPipeClient(t)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.readCommand(t)
		srv.sendVerdict(wire.VerdictErr, wire.VerbPublish, "bad:topic")
	}()

	err := c.Publish("bad:topic", []byte("x"))
	<-done
	if err == nil {
		t.Fatal("expected error")
	}
	verr, ok := err.(*ErrVerdict)
	if !ok {
		t.Fatalf("expected *ErrVerdict, got %T: %v", err, err)
	}
	if verr.Cmd != wire.VerbPublish || verr.Topic != "bad:topic" {
		t.Fatalf("unexpected verdict detail: %+v", verr)
	}
}

func TestDataFrameArrivingDuringRoundTripIsQueued(t *testing.T) {
	c, srv := newPipeClient(t)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.readCommand(t)
		srv.sendData([]byte("early"))
		srv.sendVerdict(wire.VerdictOK, wire.VerbSubscribe, "t")
	}()

	if err := c.Subscribe("t"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-done

	select {
	case msg := <-c.Messages():
		if !bytes.Equal(msg, []byte("early")) {
			t.Fatalf("got %q, want early", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued DATA frame")
	}
}

func TestStartReceivingDeliversMessages(t *testing.T) {
	c, srv := newPipeClient(t)
	defer c.Close()
	c.StartReceiving()

	srv.sendData([]byte("m1"))
	srv.sendData([]byte("m2"))

	got1, ok := c.Receive(time.Second)
	if !ok || !bytes.Equal(got1, []byte("m1")) {
		t.Fatalf("got %q, ok=%v", got1, ok)
	}
	got2, ok := c.Receive(time.Second)
	if !ok || !bytes.Equal(got2, []byte("m2")) {
		t.Fatalf("got %q, ok=%v", got2, ok)
	}
}

func TestReceiveTimesOutWithNoMessage(t *testing.T) {
	c, _ := newPipeClient(t)
	defer c.Close()
	c.StartReceiving()

	_, ok := c.Receive(50 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got a message")
	}
}
