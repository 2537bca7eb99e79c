package dobiss

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// pipeDialer hands out in-memory connections and keeps the peer ends.
type pipeDialer struct {
	mu    sync.Mutex
	peers chan net.Conn
	fail  error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan net.Conn, 4)}
}

func (p *pipeDialer) Dial(_ context.Context, _ string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	local, peer := net.Pipe()
	p.peers <- peer
	return local, nil
}

func (p *pipeDialer) nextPeer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case peer := <-p.peers:
		return peer
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialled")
		return nil
	}
}

func dialTestBus(t *testing.T, filters []CANFilter) (*SocketCANBus, *pipeDialer, net.Conn) {
	t.Helper()
	dialer := newPipeDialer()
	bus, err := DialSocketCAN(context.Background(), SocketCANConfig{
		Channel:           "vcan0",
		Filters:           filters,
		ReconnectInterval: 10 * time.Millisecond,
		Dial:              dialer.Dial,
	})
	if err != nil {
		t.Fatalf("DialSocketCAN() error = %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus, dialer, dialer.nextPeer(t)
}

func TestSocketCANDialFailure(t *testing.T) {
	dialer := newPipeDialer()
	dialer.fail = errors.New("no such device")

	_, err := DialSocketCAN(context.Background(), SocketCANConfig{Dial: dialer.Dial})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
}

func TestSocketCANSend(t *testing.T) {
	bus, _, peer := dialTestBus(t, nil)

	want := Encode(SetOutputCommand{Module: 1, Output: 2, Value: 1})
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errCh <- bus.Send(ctx, want)
	}()

	rx := socketcan.NewReceiver(peer)
	if !rx.Receive() {
		t.Fatalf("peer Receive() failed: %v", rx.Err())
	}
	if got := rx.Frame(); got != want {
		t.Errorf("peer got %v, want %v", got, want)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := bus.Stats().FramesTx; got != 1 {
		t.Errorf("FramesTx = %d, want 1", got)
	}
}

func TestSocketCANReceiveFiltered(t *testing.T) {
	bus, _, peer := dialTestBus(t, KernelFilters())

	received := make(chan can.Frame, 4)
	bus.SetOnFrame(func(f can.Frame) { received <- f })

	tx := socketcan.NewTransmitter(peer)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Our own SET echoed back is filtered out; the ACK passes.
	if err := tx.TransmitFrame(ctx, Encode(SetOutputCommand{Module: 1, Output: 2, Value: 1})); err != nil {
		t.Fatal(err)
	}
	ack := Encode(Acknowledgment{Module: 1, Output: 2, Value: 1})
	if err := tx.TransmitFrame(ctx, ack); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-received:
		if f != ack {
			t.Errorf("callback got %v, want %v", f, ack)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ACK not delivered")
	}

	stats := bus.Stats()
	if stats.FramesRx != 2 || stats.FramesFiltered != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSocketCANReconnect(t *testing.T) {
	bus, dialer, peer := dialTestBus(t, nil)

	links := make(chan bool, 4)
	bus.SetOnLinkChange(func(up bool) { links <- up })

	peer.Close()

	for _, want := range []bool{false, true} {
		select {
		case up := <-links:
			if up != want {
				t.Fatalf("link = %v, want %v", up, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no link change to %v", want)
		}
	}

	dialer.nextPeer(t)
	if !bus.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if got := bus.Stats().ReconnectsTotal; got != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", got)
	}
}

func TestSocketCANSendAfterClose(t *testing.T) {
	bus, _, _ := dialTestBus(t, nil)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err := bus.Send(context.Background(), Encode(StatusRequest{Module: 1, Output: 1}))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := bus.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
