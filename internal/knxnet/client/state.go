package client

// State is a connection state machine state.
type State int32

// States.
const (
	StateUninitialized State = iota
	StateConnecting
	StateJumpToConnecting
	StateConnected
	StateIdle
	StateRequestingConnState
	StateSendDatagram
	StateSendTunnReqWaitAck
	StateDisconnecting
	StateRecvTunnReqIndication
)

var stateNames = [...]string{
	StateUninitialized:         "uninitialized",
	StateConnecting:            "connecting",
	StateJumpToConnecting:      "jumptoconnecting",
	StateConnected:             "connected",
	StateIdle:                  "idle",
	StateRequestingConnState:   "requestingConnState",
	StateSendDatagram:          "sendDatagram",
	StateSendTunnReqWaitAck:    "sendTunnReq_waitACK",
	StateDisconnecting:         "disconnecting",
	StateRecvTunnReqIndication: "recvTunnReqIndication",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
