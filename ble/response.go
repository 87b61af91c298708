package ble

import "time"

// The Grove BLE speaks its AT dialect without any response delimiters, so
// "response complete" cannot be detected from content. The collector instead
// samples over a fixed window: every poll drains whatever the transport has
// buffered, and once the retry or timeout deadline passes, whatever has
// accumulated is taken as the complete response.

// responseState classifies the progress of a pending command's response.
type responseState int

const (
	// respReceiving means neither deadline has passed, no decision yet.
	respReceiving responseState = iota
	// respNeedRetry means the retry window elapsed with nothing received
	// and the command should be retransmitted.
	respNeedRetry
	// respTimedOut means the timeout passed without a single byte.
	respTimedOut
	// respSuccess means a deadline passed and the buffer holds the response.
	respSuccess
)

// responseCollector accumulates unframed response bytes and classifies, on
// each poll, whether the pending command's response window has closed.
type responseCollector struct {
	transport Transport
	clock     Clock

	buf []byte

	// retryInterval is the reschedule step applied after respNeedRetry.
	retryInterval time.Duration
	// retryAt is the retransmit deadline; the zero value disables retries
	// for the current command.
	retryAt time.Time
	// timeoutAt is the absolute deadline for the current command.
	timeoutAt time.Time
}

// arm sets the deadlines for a freshly sent command. A zero retry disables
// retransmission, leaving the timeout as the only decision point.
func (c *responseCollector) arm(now time.Time, timeout, retry time.Duration) {
	c.timeoutAt = now.Add(timeout)
	if retry > 0 {
		c.retryAt = now.Add(retry)
	} else {
		c.retryAt = time.Time{}
	}
}

// clearBuffer discards any buffered bytes. Called exactly when a command is
// transmitted; polling never clears the buffer implicitly.
func (c *responseCollector) clearBuffer() {
	c.buf = c.buf[:0]
}

// response returns the bytes accumulated since the last transmission.
func (c *responseCollector) response() []byte {
	return c.buf
}

// poll drains the transport and decides whether the pending response is
// ready. On respNeedRetry the retry deadline is rescheduled; the caller is
// expected to retransmit the command.
func (c *responseCollector) poll(now time.Time) responseState {
	c.drain()

	timeoutReached := !now.Before(c.timeoutAt)
	retryReached := !c.retryAt.IsZero() && !now.Before(c.retryAt)

	if !retryReached && !timeoutReached {
		return respReceiving
	}
	if len(c.buf) > 0 {
		return respSuccess
	}
	if timeoutReached {
		return respTimedOut
	}
	c.retryAt = c.clock.Now().Add(c.retryInterval)
	return respNeedRetry
}

// drain moves everything the transport has pending into the buffer. Reads
// are non-blocking per the Transport contract; a zero-byte read or an error
// means nothing more is available this tick.
func (c *responseCollector) drain() {
	var chunk [64]byte
	for {
		n, err := c.transport.Read(chunk[:])
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if n == 0 || err != nil {
			return
		}
	}
}
