package ble_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/majenkotech/MHGroveBLE/ble"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestController wires a controller to an in-memory transport and a
// manually advanced clock.
func newTestController(t *testing.T) (*ble.BLE, *ble.TestTransport, *testClock) {
	t.Helper()

	transport := ble.NewTestTransport()
	clock := &testClock{now: time.Unix(1000, 0)}

	config, err := ble.NewConfigBuilder().
		WithDialer(transport.Dialer()).
		WithName("BLE1").
		WithClock(clock).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	b, err := ble.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return b, transport, clock
}

// respond plays one round of the happy path: queue a response for the
// pending command, let its decision window elapse, and poll once.
func respond(t *testing.T, b *ble.BLE, transport *ble.TestTransport, clock *testClock, response string) {
	t.Helper()
	transport.QueueRead(response)
	clock.Advance(510 * time.Millisecond)
	b.Poll()
	if b.State() == ble.StatePanicked {
		t.Fatalf("controller panicked mid-setup: %v", b.PanicReason())
	}
}

func TestControllerSetupSequence(t *testing.T) {
	b, transport, clock := newTestController(t)

	if b.State() != ble.StateInitializing {
		t.Fatalf("fresh controller should be initializing, got: %v", b.State())
	}

	// First poll leaves startup and probes the device.
	b.Poll()
	if got := transport.Commands(); got != "AT" {
		t.Fatalf("expected initial AT probe, got: %q", got)
	}

	// Six successful responses walk the whole setup chain.
	for i := 0; i < 6; i++ {
		if b.State() != ble.StateInitializing {
			t.Fatalf("expected initializing before step %d, got: %v", i, b.State())
		}
		respond(t, b, transport, clock, "OK")
	}

	if b.State() != ble.StateWaitingForConnection {
		t.Errorf("expected waiting-for-connection, got: %v", b.State())
	}

	want := []string{"AT", "AT+NAMEBLE1", "AT+ROLE0", "AT+NOTI1", "AT+RESET", "AT"}
	if got := transport.Writes(); !slices.Equal(got, want) {
		t.Errorf("unexpected command sequence:\n got: %v\nwant: %v", got, want)
	}
}

func TestControllerConnectionEvents(t *testing.T) {
	b, transport, clock := newTestController(t)

	// Connection events are meaningless during setup.
	b.SetConnected(true)
	if b.State() != ble.StateInitializing {
		t.Fatalf("SetConnected during setup should be a no-op, got: %v", b.State())
	}

	b.Poll()
	for i := 0; i < 6; i++ {
		respond(t, b, transport, clock, "OK")
	}

	b.SetConnected(true)
	if b.State() != ble.StateConnected {
		t.Errorf("expected connected, got: %v", b.State())
	}

	// Repeated events are idempotent.
	b.SetConnected(true)
	if b.State() != ble.StateConnected {
		t.Errorf("expected connected after duplicate event, got: %v", b.State())
	}

	b.SetConnected(false)
	if b.State() != ble.StateWaitingForConnection {
		t.Errorf("expected waiting-for-connection after peer loss, got: %v", b.State())
	}
}

func TestControllerProbeTimeout(t *testing.T) {
	b, transport, clock := newTestController(t)

	start := clock.Now()
	b.Poll() // arms the 5s device wait

	// An unresponsive device: poll every 100ms of simulated time.
	for clock.Now().Sub(start) < 5*time.Second {
		if b.State() != ble.StateInitializing {
			t.Fatalf("panicked before the timeout, at %v", clock.Now().Sub(start))
		}
		clock.Advance(100 * time.Millisecond)
		b.Poll()
	}

	if b.State() != ble.StatePanicked {
		t.Fatalf("expected panicked at the absolute timeout, got: %v", b.State())
	}
	if b.PanicReason() != ble.ReasonDeviceTimeout {
		t.Errorf("expected device-timeout reason, got: %v", b.PanicReason())
	}

	// The probe is retransmitted once per elapsed retry interval: the
	// initial AT plus one resend at each of 500ms..4500ms.
	writes := transport.Writes()
	if len(writes) != 10 {
		t.Errorf("expected 10 AT transmissions, got %d: %v", len(writes), writes)
	}
	for _, w := range writes {
		if w != "AT" {
			t.Errorf("unexpected transmission: %q", w)
		}
	}
}

func TestControllerSetupCommandTimeout(t *testing.T) {
	b, transport, clock := newTestController(t)

	b.Poll()
	respond(t, b, transport, clock, "OK") // device found, AT+NAME sent

	// No reply to AT+NAME: the 500ms command window expires.
	clock.Advance(510 * time.Millisecond)
	b.Poll()

	if b.State() != ble.StatePanicked {
		t.Fatalf("expected panicked, got: %v", b.State())
	}
	if b.PanicReason() != ble.ReasonDeviceTimeout {
		t.Errorf("expected device-timeout reason, got: %v", b.PanicReason())
	}
}

func TestControllerResetTimeoutFallback(t *testing.T) {
	b, transport, clock := newTestController(t)

	b.Poll()
	for i := 0; i < 4; i++ {
		respond(t, b, transport, clock, "OK") // up to and including AT+RESET sent
	}

	// The module reboots without acknowledging AT+RESET. The timeout is not
	// an error here: the controller moves on to probing for the device.
	clock.Advance(510 * time.Millisecond)
	b.Poll()

	if b.State() != ble.StateInitializing {
		t.Fatalf("reset timeout should fall through to the probe, got: %v", b.State())
	}
	want := []string{"AT", "AT+NAMEBLE1", "AT+ROLE0", "AT+NOTI1", "AT+RESET", "AT"}
	if got := transport.Writes(); !slices.Equal(got, want) {
		t.Fatalf("expected post-reset probe:\n got: %v\nwant: %v", got, want)
	}

	// The rebooted module answers the probe.
	respond(t, b, transport, clock, "OK")
	if b.State() != ble.StateWaitingForConnection {
		t.Errorf("expected waiting-for-connection, got: %v", b.State())
	}
}

func TestControllerPanicIsTerminal(t *testing.T) {
	b, transport, clock := newTestController(t)

	b.Poll()
	clock.Advance(5100 * time.Millisecond)
	b.Poll()
	if b.State() != ble.StatePanicked {
		t.Fatalf("expected panicked, got: %v", b.State())
	}

	writes := len(transport.Writes())

	// Nothing revives a panicked controller: not time, not data, not
	// connection events.
	transport.QueueRead("OK")
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		b.Poll()
	}
	b.SetConnected(true)

	if b.State() != ble.StatePanicked {
		t.Errorf("expected panicked to be terminal, got: %v", b.State())
	}
	if b.PanicReason() != ble.ReasonDeviceTimeout {
		t.Errorf("panic reason changed: %v", b.PanicReason())
	}
	if got := len(transport.Writes()); got != writes {
		t.Errorf("panicked controller transmitted: %d -> %d writes", writes, got)
	}
}

func TestControllerWriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := ble.NewMockTransport(ctrl)
	mockDialer := ble.NewMockDialer(ctrl)

	mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
	mockTransport.EXPECT().Write([]byte("AT")).Return(0, errors.New("port gone"))

	config, err := ble.NewConfigBuilder().
		WithDialer(mockDialer).
		WithName("BLE1").
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	b, err := ble.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}

	b.Poll()

	if b.State() != ble.StatePanicked {
		t.Fatalf("expected panicked after write failure, got: %v", b.State())
	}
	if b.PanicReason() != ble.ReasonTransportFailure {
		t.Errorf("expected transport-failure reason, got: %v", b.PanicReason())
	}
}

func TestNew(t *testing.T) {
	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		b, err := ble.New(context.Background(), config)
		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if b != nil {
			t.Error("New() should return nil controller when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		b, err := ble.New(context.Background(), ble.Config{Name: "BLE1"})
		if !errors.Is(err, ble.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
		if b != nil {
			t.Error("New() should return nil controller when no dialer provided")
		}
	})

	t.Run("ErrNoDeviceName when no name provided", func(t *testing.T) {
		b, err := ble.New(context.Background(), ble.Config{Dialer: ble.NewTestTransport().Dialer()})
		if !errors.Is(err, ble.ErrNoDeviceName) {
			t.Errorf("expected ErrNoDeviceName, got: %v", err)
		}
		if b != nil {
			t.Error("New() should return nil controller when no name provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		_, err = ble.New(context.Background(), config)
		if !errors.Is(err, ble.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got: %v", err)
		}
	})

	t.Run("Construction performs no transport I/O", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// No Read/Write expectations: the first command goes out on the
		// first Poll, not during New.
		mockTransport := ble.NewMockTransport(ctrl)
		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		b, err := ble.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		mockTransport.EXPECT().Close().Return(nil)
		if err := b.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("Closes underlying transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := ble.NewMockTransport(ctrl)
		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		b, err := ble.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		closeError := errors.New("transport close failed")

		mockTransport := ble.NewMockTransport(ctrl)
		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(closeError)

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		b, err := ble.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := b.Close(); !errors.Is(err, closeError) {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := ble.NewMockTransport(ctrl)
		mockDialer := ble.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := ble.NewConfigBuilder().
			WithDialer(mockDialer).
			WithName("BLE1").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		b, err := ble.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := b.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}
		if err := b.Close(); !errors.Is(err, ble.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
	})
}
