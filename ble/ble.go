// Package ble drives a Seeed Grove BLE (HM-10/HM-11 class) module from
// power-on to an advertising/connected state.
//
// The module's AT dialect has no message framing, so the driver is built
// around a cooperative, non-blocking poll loop: the caller invokes Poll once
// per scheduling tick and the controller decides, purely from elapsed time
// and received-byte presence, whether a response has arrived, must be
// retried, or has failed.
package ble

import (
	"context"
	"log/slog"
	"time"

	"github.com/majenkotech/MHGroveBLE/at"
)

// internalState enumerates the setup sequence. Exactly one state is current
// at a time; statePanicked is a sink with no outgoing transition.
type internalState int

const (
	// stateStartup is the initial state.
	stateStartup internalState = iota
	// stateWaitForDeviceAfterStartup sends "AT" periodically until the
	// device responds.
	stateWaitForDeviceAfterStartup
	// stateSetName sets the Bluetooth name.
	stateSetName
	// stateSetRole puts the module into peripheral role.
	stateSetRole
	// stateSetNotification enables connection notifications.
	stateSetNotification
	// stateReset reboots the module after setting it up.
	stateReset
	// stateWaitForDeviceAfterReset sends "AT" periodically until the
	// rebooted device responds.
	stateWaitForDeviceAfterReset
	// stateWaitingForConnection waits for a peer; driven by SetConnected.
	stateWaitingForConnection
	// stateConnected means a peer is connected.
	stateConnected
	// statePanicked means an unrecoverable error occurred, operation halted.
	statePanicked
)

func (s internalState) String() string {
	switch s {
	case stateStartup:
		return "startup"
	case stateWaitForDeviceAfterStartup:
		return "wait-for-device-after-startup"
	case stateSetName:
		return "set-name"
	case stateSetRole:
		return "set-role"
	case stateSetNotification:
		return "set-notification"
	case stateReset:
		return "reset"
	case stateWaitForDeviceAfterReset:
		return "wait-for-device-after-reset"
	case stateWaitingForConnection:
		return "waiting-for-connection"
	case stateConnected:
		return "connected"
	case statePanicked:
		return "panicked"
	default:
		return "unknown"
	}
}

// State is the observable controller state. The setup sub-states all
// collapse into StateInitializing; callers only need to know whether the
// module is still being brought up, usable, or dead.
type State int

const (
	StateInitializing State = iota
	StateWaitingForConnection
	StateConnected
	StatePanicked
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateWaitingForConnection:
		return "waiting-for-connection"
	case StateConnected:
		return "connected"
	case StatePanicked:
		return "panicked"
	default:
		return "unknown"
	}
}

// PanicReason records why the controller entered StatePanicked. It is
// observability only; every reason is equally terminal.
type PanicReason int

const (
	// ReasonNone means the controller has not panicked.
	ReasonNone PanicReason = iota
	// ReasonDeviceTimeout means the module failed to respond within the
	// absolute timeout of the current step.
	ReasonDeviceTimeout
	// ReasonInvariantViolation means a retry was requested in a state where
	// retries are disabled. Impossible by construction; observing it
	// indicates a defect.
	ReasonInvariantViolation
	// ReasonTransportFailure means a command could not be written to the
	// transport.
	ReasonTransportFailure
)

func (r PanicReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDeviceTimeout:
		return "device-timeout"
	case ReasonInvariantViolation:
		return "invariant-violation"
	case ReasonTransportFailure:
		return "transport-failure"
	default:
		return "unknown"
	}
}

// transition describes what entering a state does: the command it transmits,
// the deadlines it arms, and the statically known state to enter once the
// command succeeds.
type transition struct {
	command   string
	retry     time.Duration // zero disables retransmission
	timeout   time.Duration
	onSuccess internalState
}

func newTransitionTable(config Config) map[internalState]transition {
	return map[internalState]transition{
		stateWaitForDeviceAfterStartup: {
			command:   at.CmdAT,
			retry:     config.RetryInterval,
			timeout:   config.WaitForDeviceTimeout,
			onSuccess: stateSetName,
		},
		stateSetName: {
			command:   at.Name(config.Name),
			timeout:   config.CommandTimeout,
			onSuccess: stateSetRole,
		},
		stateSetRole: {
			command:   at.CmdPeripheral,
			timeout:   config.CommandTimeout,
			onSuccess: stateSetNotification,
		},
		stateSetNotification: {
			command:   at.CmdNotifyOn,
			timeout:   config.CommandTimeout,
			onSuccess: stateReset,
		},
		stateReset: {
			command:   at.CmdReset,
			timeout:   config.CommandTimeout,
			onSuccess: stateWaitForDeviceAfterReset,
		},
		stateWaitForDeviceAfterReset: {
			command:   at.CmdAT,
			retry:     config.RetryInterval,
			timeout:   config.WaitForDeviceTimeout,
			onSuccess: stateWaitingForConnection,
		},
	}
}

// BLE is the setup/connection controller for a Grove BLE module.
//
// It is bound to one transport and one device name for its whole lifetime
// and is driven by a single cooperative loop: all methods must be called
// from the same goroutine; no locking is done internally.
type BLE struct {
	transport   Transport
	clock       Clock
	logger      *slog.Logger
	rx          responseCollector
	transitions map[internalState]transition
	state       internalState
	reason      PanicReason
	closed      bool
}

// New dials the transport and returns a controller in its startup state.
// Nothing is transmitted until the first Poll.
func New(ctx context.Context, config Config) (*BLE, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &BLE{
		transport: transport,
		clock:     config.Clock,
		logger:    logger,
		rx: responseCollector{
			transport:     transport,
			clock:         config.Clock,
			buf:           make([]byte, 0, config.RxBufferSize),
			retryInterval: config.RetryInterval,
		},
		transitions: newTransitionTable(config),
		state:       stateStartup,
	}, nil
}

// Poll advances the controller by one unit of work. It never blocks: it
// either completes a full classification decision or returns having made no
// state change. Call it once per scheduling tick.
func (b *BLE) Poll() {
	switch b.state {
	case stateStartup:
		b.enter(stateWaitForDeviceAfterStartup)

	case stateWaitForDeviceAfterStartup, stateWaitForDeviceAfterReset:
		b.pollWaitForDevice()

	case stateSetName, stateSetRole, stateSetNotification:
		b.pollSetupCommand()

	case stateReset:
		b.pollReset()

	case stateWaitingForConnection, stateConnected:
		// Steady states, driven only by SetConnected.

	case statePanicked:
		// Once we've panicked we won't do anything again.
	}
}

// State reports the observable controller state.
func (b *BLE) State() State {
	switch b.state {
	case statePanicked:
		return StatePanicked
	case stateWaitingForConnection:
		return StateWaitingForConnection
	case stateConnected:
		return StateConnected
	default:
		return StateInitializing
	}
}

// PanicReason reports why the controller panicked, or ReasonNone.
func (b *BLE) PanicReason() PanicReason {
	return b.reason
}

// SetConnected feeds the module's connection status into the controller.
// It only has an effect once setup has finished: true moves
// waiting-for-connection to connected, false moves connected back. In any
// other state it is a no-op.
func (b *BLE) SetConnected(connected bool) {
	switch {
	case connected && b.state == stateWaitingForConnection:
		b.enter(stateConnected)
	case !connected && b.state == stateConnected:
		b.enter(stateWaitingForConnection)
	}
}

// Close releases the transport. The controller cannot be reused afterwards.
func (b *BLE) Close() error {
	if b.closed {
		return ErrAlreadyClosed
	}
	b.closed = true
	return b.transport.Close()
}

// enter transitions to the next state, transmitting its command and arming
// the response deadlines when the transition table has an entry for it.
func (b *BLE) enter(next internalState) {
	b.logger.Debug("state transition", "from", b.state, "to", next)

	if tr, ok := b.transitions[next]; ok {
		if !b.sendCommand(tr.command) {
			return
		}
		b.rx.arm(b.clock.Now(), tr.timeout, tr.retry)
	}

	b.state = next
	if next == statePanicked {
		b.logger.Error("panic", "reason", b.reason)
	}
}

// sendCommand writes a command to the transport and clears the receive
// buffer. It reports false after panicking on a write failure.
func (b *BLE) sendCommand(command string) bool {
	b.logger.Debug("sending command", "command", command)
	if _, err := b.transport.Write([]byte(command)); err != nil {
		b.logger.Error("transport write failed", "command", command, "error", err)
		b.panic(ReasonTransportFailure)
		return false
	}
	b.rx.clearBuffer()
	return true
}

// pollWaitForDevice handles the two probe states: the module is expected to
// eventually answer an "AT", which is retransmitted each time the retry
// window elapses without data.
func (b *BLE) pollWaitForDevice() {
	tr := b.transitions[b.state]

	switch b.rx.poll(b.clock.Now()) {
	case respReceiving:

	case respNeedRetry:
		b.sendCommand(tr.command)

	case respTimedOut:
		b.panic(ReasonDeviceTimeout)

	case respSuccess:
		b.logger.Debug("received response", "response", string(b.rx.response()))
		b.enter(tr.onSuccess)
	}
}

// pollSetupCommand handles the generic one-shot configuration commands.
// Retries are disabled for them, so respNeedRetry can only mean a defect.
func (b *BLE) pollSetupCommand() {
	tr := b.transitions[b.state]

	switch b.rx.poll(b.clock.Now()) {
	case respReceiving:

	case respNeedRetry:
		b.panic(ReasonInvariantViolation)

	case respTimedOut:
		b.panic(ReasonDeviceTimeout)

	case respSuccess:
		b.logger.Debug("received response", "response", string(b.rx.response()))
		b.enter(tr.onSuccess)
	}
}

// pollReset handles AT+RESET. A timeout is treated the same as a response:
// the module drops off the wire while rebooting, so either way the next step
// is to probe for it coming back.
func (b *BLE) pollReset() {
	tr := b.transitions[b.state]

	switch b.rx.poll(b.clock.Now()) {
	case respReceiving:

	case respNeedRetry:
		b.panic(ReasonInvariantViolation)

	case respTimedOut, respSuccess:
		b.enter(tr.onSuccess)
	}
}

func (b *BLE) panic(reason PanicReason) {
	b.reason = reason
	b.enter(statePanicked)
}
