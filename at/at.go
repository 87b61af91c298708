package at

// Grove BLE (HM-10/HM-11 class) AT dialect.
//
// The module sends and receives WITHOUT any delimiters like "\r\n": commands
// are written bare and responses carry no terminator. Whether a response is
// complete can only be inferred by waiting until no more bytes arrive.
const (
	// Commands
	CmdAT         = "AT"
	CmdNamePrefix = "AT+NAME"
	CmdPeripheral = "AT+ROLE0"
	CmdCentral    = "AT+ROLE1"
	CmdNotifyOn   = "AT+NOTI1"
	CmdNotifyOff  = "AT+NOTI0"
	CmdReset      = "AT+RESET"

	// Response Codes
	OK     = "OK"
	OKSet  = "OK+Set:"
	OKName = "OK+NAME"
	Error  = "OK+ERR"

	// Connection notifications (sent unsolicited when AT+NOTI1 is active)
	NotifyConnected = "OK+CONN"
	NotifyLost      = "OK+LOST"
)

// Name builds the rename command for the given device name. The name is
// appended verbatim with no quoting; the caller must keep it protocol safe.
func Name(name string) string {
	return CmdNamePrefix + name
}
