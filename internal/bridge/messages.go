package bridge

import (
	"encoding/hex"
	"time"

	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

// Command actions.
const (
	ActionWrite   = "write"
	ActionRead    = "read"
	ActionRespond = "respond"
)

// CommandMessage asks the bridge to put a telegram on the bus.
// Topic: {prefix}/command/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when
	// empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Action is one of "write", "read" or "respond".
	Action string `json:"action"`

	// Address is the destination ("1/2/3" or "1.1.5"). Defaults to the
	// address in the topic.
	Address string `json:"address,omitempty"`

	// Data is the raw payload in hex. Takes precedence over Value.
	Data string `json:"data,omitempty"`

	// Appended forces a one-byte Data payload after the APCI word.
	Appended bool `json:"appended,omitempty"`

	// Value is encoded with DPT when Data is empty.
	// Examples:
	//   true with "1.001"
	//   21.5 with "9.001"
	//   {"red": 255, "green": 0, "blue": 0} with "232.600"
	Value any `json:"value,omitempty"`

	// DPT names the datapoint type for Value. Defaults to the type
	// configured for the address.
	DPT string `json:"dpt,omitempty"`

	// Source indicates where the command originated ("mqtt", "api", "cli").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the telegram was handed to the gateway. For
	// reads it means a response arrived.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates no response arrived in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage reports the outcome of a command.
// Topic: {prefix}/ack/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Status    AckStatus `json:"status"`
	Address   string    `json:"address"`

	// Data and Value carry the response of a read.
	Data  string `json:"data,omitempty"`
	Value any    `json:"value,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// TelegramMessage is published for every group or device telegram the
// gateway indicates.
// Topic: {prefix}/telegram/{destination}
// QoS: configured, Retained: for GroupValue_Write and GroupValue_Response
type TelegramMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	APCI        string    `json:"apci"`
	Data        string    `json:"data"`

	// DPT and Value are present when a datapoint type is configured for
	// the destination and the payload decodes.
	DPT   string `json:"dpt,omitempty"`
	Value any    `json:"value,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthStarting is published while the bridge initialises.
	HealthStarting HealthStatus = "starting"

	// HealthHealthy means the gateway session and every checked dependency
	// are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the session or a dependency is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping is published on graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the bridge's retained health report.
// Topic: {prefix}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Timestamp     time.Time          `json:"timestamp"`
	Status        HealthStatus       `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	Version       string             `json:"version,omitempty"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Connection    *ConnectionStatus  `json:"connection,omitempty"`
	Statistics    *SessionStatistics `json:"statistics,omitempty"`
	Dependencies  []DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one dependency health check.
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ConnectionStatus describes the KNXnet/IP session.
type ConnectionStatus struct {
	State          string     `json:"state"`
	Gateway        string     `json:"gateway"`
	Mode           string     `json:"mode"`
	ChannelID      uint8      `json:"channel_id,omitempty"`
	LocalAddress   string     `json:"local_address"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// SessionStatistics mirrors client.Stats counters plus the bridge's own.
type SessionStatistics struct {
	TelegramsTx        uint64 `json:"telegrams_tx"`
	TelegramsRx        uint64 `json:"telegrams_rx"`
	AcksReceived       uint64 `json:"acks_received"`
	AckTimeouts        uint64 `json:"ack_timeouts"`
	DecodeErrors       uint64 `json:"decode_errors"`
	SendErrors         uint64 `json:"send_errors"`
	EventsDropped      uint64 `json:"events_dropped"`
	Reconnects         uint64 `json:"reconnects"`
	CommandsHandled    uint64 `json:"commands_handled"`
	CommandsFailed     uint64 `json:"commands_failed"`
	TelegramsPublished uint64 `json:"telegrams_published"`
}

// Telegram is the bridge's view of one inbound indication. It is handed to
// every Sink.
type Telegram struct {
	Time        time.Time
	Source      string
	Destination string
	Group       bool
	APCI        string
	Data        []byte
	DPT         string
	Value       any
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Action:    cmd.Action,
		Status:    status,
		Address:   address,
	}
}

// NewAckError creates an acknowledgement with error details. ErrCodeTimeout
// maps to AckTimeout; everything else to AckFailed.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewTelegramMessage converts a bridge telegram to its MQTT form.
func NewTelegramMessage(t Telegram) TelegramMessage {
	return TelegramMessage{
		Timestamp:   t.Time.UTC(),
		Source:      t.Source,
		Destination: t.Destination,
		APCI:        t.APCI,
		Data:        hex.EncodeToString(t.Data),
		DPT:         t.DPT,
		Value:       t.Value,
	}
}

// NewHealthMessage builds a health report from a session snapshot.
func NewHealthMessage(version, gateway string, status HealthStatus, stats client.Stats, counters Counters, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: &ConnectionStatus{
			State:        stats.State.String(),
			Gateway:      gateway,
			Mode:         modeOf(stats.Tunneling),
			ChannelID:    stats.ChannelID,
			LocalAddress: stats.LocalAddress.String(),
		},
		Statistics: &SessionStatistics{
			TelegramsTx:        stats.TelegramsTx,
			TelegramsRx:        stats.TelegramsRx,
			AcksReceived:       stats.AcksReceived,
			AckTimeouts:        stats.AckTimeouts,
			DecodeErrors:       stats.DecodeErrors,
			SendErrors:         stats.SendErrors,
			EventsDropped:      stats.EventsDropped,
			Reconnects:         stats.Reconnects,
			CommandsHandled:    counters.CommandsHandled,
			CommandsFailed:     counters.CommandsFailed,
			TelegramsPublished: counters.TelegramsPublished,
		},
	}
	if stats.Connected && !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		msg.Connection.ConnectedSince = &since
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

func modeOf(tunneling bool) string {
	if tunneling {
		return "tunneling"
	}
	return "routing"
}
