package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/knxnetip/internal/dpt"
	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// defaultCommandTimeout bounds one command, including a read's wait for its
// response.
const defaultCommandTimeout = 5 * time.Second

// Sender is the part of *client.Connection commands need.
type Sender interface {
	Write(ctx context.Context, dest address.Address, data []byte) error
	WriteAppended(ctx context.Context, dest address.Address, data []byte) error
	Respond(ctx context.Context, dest address.Address, data []byte) error
	RespondAppended(ctx context.Context, dest address.Address, data []byte) error
	Read(ctx context.Context, dest address.Address) ([]byte, error)
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Sender puts telegrams on the bus. Required.
	Sender Sender

	// DPTs maps addresses to datapoint types. Keys that do not parse as
	// addresses are skipped with a warning.
	DPTs map[string]string

	// Timeout bounds each command. Default: 5 seconds.
	Timeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Executor runs CommandMessages against the bus and decodes telegrams with
// the configured datapoint types. The MQTT bridge and the HTTP API share
// one.
//
// Thread Safety: All methods are safe for concurrent use.
type Executor struct {
	sender  Sender
	dpts    map[string]string
	timeout time.Duration
	logger  Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	e := &Executor{
		sender:  opts.Sender,
		dpts:    make(map[string]string, len(opts.DPTs)),
		timeout: timeout,
		logger:  opts.Logger,
	}
	for key, id := range opts.DPTs {
		addr, err := address.ParseAny(key)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("ignoring DPT for invalid address", "address", key, "error", err)
			}
			continue
		}
		e.dpts[addr.String()] = dpt.Normalize(id)
	}
	return e
}

// DPT returns the datapoint type configured for addr, or "".
func (e *Executor) DPT(addr string) string {
	return e.dpts[addr]
}

// DPTCount returns the number of configured datapoint types.
func (e *Executor) DPTCount() int {
	return len(e.dpts)
}

// Execute runs cmd and returns its acknowledgement. An empty ID is
// generated and an empty Action means write. topicAddr is the address the
// command arrived under; it may be empty when cmd carries the address.
func (e *Executor) Execute(ctx context.Context, cmd CommandMessage, topicAddr string) AckMessage {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Action == "" {
		cmd.Action = ActionWrite
	}

	dest, err := resolveAddress(cmd.Address, topicAddr)
	if err != nil {
		return NewAckError(cmd, firstNonEmpty(cmd.Address, topicAddr), ErrCodeInvalidParameters, err.Error())
	}
	addrStr := dest.String()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch strings.ToLower(cmd.Action) {
	case ActionWrite, ActionRespond:
		return e.executeSend(ctx, cmd, dest)
	case ActionRead:
		return e.executeRead(ctx, cmd, dest)
	default:
		return NewAckError(cmd, addrStr, ErrCodeInvalidCommand, fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

// executeSend handles write and respond.
func (e *Executor) executeSend(ctx context.Context, cmd CommandMessage, dest address.Address) AckMessage {
	addrStr := dest.String()
	data, short, err := e.payload(cmd, addrStr)
	if err != nil {
		return NewAckError(cmd, addrStr, ErrCodeInvalidParameters, err.Error())
	}

	respond := strings.EqualFold(cmd.Action, ActionRespond)
	switch {
	case respond && short:
		err = e.sender.Respond(ctx, dest, data)
	case respond:
		err = e.sender.RespondAppended(ctx, dest, data)
	case short:
		err = e.sender.Write(ctx, dest, data)
	default:
		err = e.sender.WriteAppended(ctx, dest, data)
	}
	if err != nil {
		return NewAckError(cmd, addrStr, errorCode(err), err.Error())
	}
	return NewAckMessage(cmd, AckAccepted, addrStr)
}

// executeRead sends GroupValue_Read and waits for the response.
func (e *Executor) executeRead(ctx context.Context, cmd CommandMessage, dest address.Address) AckMessage {
	addrStr := dest.String()
	data, err := e.sender.Read(ctx, dest)
	if err != nil {
		return NewAckError(cmd, addrStr, errorCode(err), err.Error())
	}

	ack := NewAckMessage(cmd, AckAccepted, addrStr)
	ack.Data = hex.EncodeToString(data)
	if id := firstNonEmpty(cmd.DPT, e.dpts[addrStr]); id != "" {
		if v, err := dpt.Decode(id, data); err == nil {
			ack.Value = v
		} else {
			e.logDebug("read response did not decode", "address", addrStr, "dpt", id, "error", err)
		}
	}
	return ack
}

// payload returns the bytes to send and whether the bus may fold them into
// the APCI word. Raw hex wins over Value and may fold unless Appended is
// set. Encoded values fold exactly when the DPT is a short type.
func (e *Executor) payload(cmd CommandMessage, addr string) ([]byte, bool, error) {
	if cmd.Data != "" {
		data, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(cmd.Data, " ", ""), "0x"))
		if err != nil {
			return nil, false, fmt.Errorf("%w: data is not hex: %w", ErrInvalidParameters, err)
		}
		if len(data) == 0 {
			return nil, false, fmt.Errorf("%w: empty data", ErrInvalidParameters)
		}
		return data, !cmd.Appended, nil
	}

	if cmd.Value == nil {
		return nil, false, fmt.Errorf("%w: command needs data or value", ErrInvalidParameters)
	}
	id := firstNonEmpty(cmd.DPT, e.dpts[addr])
	if id == "" {
		return nil, false, fmt.Errorf("%w: no DPT for value at %s", ErrInvalidParameters, addr)
	}
	data, err := dpt.Encode(id, cmd.Value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return data, dpt.Short(id), nil
}

// Telegram converts an inbound indication, decoding its payload when a DPT
// is configured for the destination. Reads carry no value.
func (e *Executor) Telegram(ev client.Event) Telegram {
	t := Telegram{
		Time:        time.Now(),
		Source:      ev.Source.String(),
		Destination: ev.Destination.String(),
		Group:       ev.Destination.IsGroup(),
		APCI:        ev.APCI,
		Data:        ev.Data,
	}

	id := e.dpts[t.Destination]
	if id == "" || len(ev.Data) == 0 || ev.APCI == codec.GroupValueRead.String() {
		return t
	}
	t.DPT = id
	if v, err := dpt.Decode(id, ev.Data); err == nil {
		t.Value = v
	} else {
		e.logDebug("telegram did not decode", "address", t.Destination, "dpt", id, "error", err)
	}
	return t
}

// Feed returns an event handler that hands every indication to sinks. It
// serves the sinks when no Bridge runs.
func (e *Executor) Feed(sinks ...Sink) client.Handler {
	return func(ev client.Event) {
		t := e.Telegram(ev)
		for _, s := range sinks {
			s.RecordTelegram(t)
		}
	}
}

func (e *Executor) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

// resolveAddress picks the command's destination. An address in the body
// must agree with the topic's.
func resolveAddress(body, topic string) (address.Address, error) {
	if body == "" && topic == "" {
		return address.Address{}, fmt.Errorf("%w: no address", ErrInvalidParameters)
	}

	var fromBody, fromTopic address.Address
	var err error
	if body != "" {
		if fromBody, err = address.ParseAny(body); err != nil {
			return address.Address{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
	}
	if topic != "" {
		if fromTopic, err = address.ParseAny(topic); err != nil {
			return address.Address{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
	}

	switch {
	case body == "":
		return fromTopic, nil
	case topic == "":
		return fromBody, nil
	case fromBody != fromTopic:
		return address.Address{}, fmt.Errorf("%w: address %s does not match topic %s", ErrInvalidParameters, fromBody, fromTopic)
	default:
		return fromBody, nil
	}
}

// errorCode maps a send or read error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, client.ErrNotConnected),
		errors.Is(err, client.ErrClosed),
		errors.Is(err, client.ErrDisconnected):
		return ErrCodeNotConnected
	case errors.Is(err, codec.ErrPayloadTooLarge),
		errors.Is(err, codec.ErrPayloadTooSmall),
		errors.Is(err, codec.ErrInvalidAddressForField):
		return ErrCodeProtocolError
	case errors.Is(err, context.Canceled):
		return ErrCodeBridgeError
	default:
		return ErrCodeDeviceUnreachable
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
