package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/nerrad567/knxnetip/internal/dpt"
	"github.com/nerrad567/knxnetip/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

var testTopics = mqtt.Topics{Prefix: "knxnetip"}

func newTestBridge(t *testing.T, sinks ...Sink) (*Bridge, *MockMQTTClient, *MockBus) {
	t.Helper()
	mqttClient := NewMockMQTTClient()
	bus := NewMockBus()
	b, err := New(Options{
		Bus:    bus,
		MQTT:   mqttClient,
		Topics: testTopics,
		QoS:    1,
		DPTs: map[string]string{
			"1/2/3": "DPST-9-1",
			"1/2/4": "5.001",
			"1/2/5": "1.001",
			"bogus": "1.001",
		},
		Sinks:   sinks,
		Version: "test",
		Gateway: "192.168.1.20",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, mqttClient, bus
}

func TestNew_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no bus", Options{MQTT: NewMockMQTTClient()}},
		{"no mqtt", Options{Bus: NewMockBus()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, ErrMissingDependency) {
				t.Errorf("New() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestNew_NormalizesDPTs(t *testing.T) {
	b, _, _ := newTestBridge(t)

	if got := b.DPT("1/2/3"); got != "9.001" {
		t.Errorf("DPT(1/2/3) = %q, want 9.001", got)
	}
	if got := b.DPT("bogus"); got != "" {
		t.Errorf("DPT(bogus) = %q, want empty", got)
	}
}

func TestBridge_StartStop(t *testing.T) {
	b, mqttClient, bus := newTestBridge(t)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	subs := mqttClient.subscriptions
	if len(subs) != 1 || subs[0].Topic != "knxnetip/command/+" {
		t.Errorf("subscriptions = %+v, want knxnetip/command/+", subs)
	}
	if bus.HandlerCount(client.EventAll) != 1 {
		t.Error("bridge did not register for bus events")
	}

	health := mqttClient.WaitFor(t, "knxnetip/health")
	if !health.Retained {
		t.Error("health not retained")
	}

	b.Stop()
	b.Stop()

	if bus.HandlerCount(client.EventAll) != 0 {
		t.Error("bus handler not removed on Stop")
	}
	if len(mqttClient.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v, want command topic", mqttClient.unsubscribed)
	}

	msgs := mqttClient.PublishedTo("knxnetip/health")
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final health status = %q, want stopping", last.Status)
	}
}

func mustEncode(t *testing.T, id string, v any) []byte {
	t.Helper()
	data, err := dpt.Encode(id, v)
	if err != nil {
		t.Fatalf("dpt.Encode(%s, %v) error = %v", id, v, err)
	}
	return data
}

func TestExecute_Send(t *testing.T) {
	tests := []struct {
		name       string
		cmd        CommandMessage
		topicAddr  string
		wantMethod string
		wantDest   string
		wantData   []byte
	}{
		{
			name:       "hex write",
			cmd:        CommandMessage{Action: ActionWrite, Data: "01"},
			topicAddr:  "1/2/5",
			wantMethod: "Write",
			wantDest:   "1/2/5",
			wantData:   []byte{0x01},
		},
		{
			name:       "hex write appended",
			cmd:        CommandMessage{Action: ActionWrite, Data: "01", Appended: true},
			topicAddr:  "1/2/5",
			wantMethod: "WriteAppended",
			wantDest:   "1/2/5",
			wantData:   []byte{0x01},
		},
		{
			name:       "default action is write",
			cmd:        CommandMessage{Address: "0/0/1", Data: "0x0C 1A"},
			wantMethod: "Write",
			wantDest:   "0/0/1",
			wantData:   []byte{0x0C, 0x1A},
		},
		{
			name:       "short DPT value",
			cmd:        CommandMessage{Action: ActionWrite, Value: true, DPT: "1.001"},
			topicAddr:  "3/3/3",
			wantMethod: "Write",
			wantDest:   "3/3/3",
			wantData:   []byte{0x01},
		},
		{
			name:       "configured DPT value",
			cmd:        CommandMessage{Action: ActionWrite, Value: 21.5},
			topicAddr:  "1/2/3",
			wantMethod: "WriteAppended",
			wantDest:   "1/2/3",
			wantData:   mustEncode(t, "9.001", 21.5),
		},
		{
			name:       "one-byte DPT is appended",
			cmd:        CommandMessage{Action: ActionWrite, Value: float64(10)},
			topicAddr:  "1/2/4",
			wantMethod: "WriteAppended",
			wantDest:   "1/2/4",
			wantData:   mustEncode(t, "5.001", float64(10)),
		},
		{
			name:       "respond",
			cmd:        CommandMessage{Action: "RESPOND", Data: "00"},
			topicAddr:  "1/2/5",
			wantMethod: "Respond",
			wantDest:   "1/2/5",
			wantData:   []byte{0x00},
		},
		{
			name:       "respond appended",
			cmd:        CommandMessage{Action: ActionRespond, Value: 21.5, DPT: "9.001"},
			topicAddr:  "1/2/6",
			wantMethod: "RespondAppended",
			wantDest:   "1/2/6",
			wantData:   mustEncode(t, "9.001", 21.5),
		},
		{
			name:       "device address",
			cmd:        CommandMessage{Action: ActionWrite, Data: "01"},
			topicAddr:  "1.1.5",
			wantMethod: "Write",
			wantDest:   "1.1.5",
			wantData:   []byte{0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mqttClient, bus := newTestBridge(t)

			ack := b.Execute(tt.cmd, tt.topicAddr)
			if ack.Status != AckAccepted || ack.Error != nil {
				t.Fatalf("ack = %+v, want accepted", ack)
			}
			if ack.CommandID == "" {
				t.Error("CommandID not generated")
			}

			calls := bus.GetCalls()
			if len(calls) != 1 {
				t.Fatalf("bus calls = %d, want 1", len(calls))
			}
			if calls[0].Method != tt.wantMethod {
				t.Errorf("method = %s, want %s", calls[0].Method, tt.wantMethod)
			}
			if calls[0].Dest.String() != tt.wantDest {
				t.Errorf("dest = %s, want %s", calls[0].Dest, tt.wantDest)
			}
			if !bytes.Equal(calls[0].Data, tt.wantData) {
				t.Errorf("data = % X, want % X", calls[0].Data, tt.wantData)
			}

			ackTopic := testTopics.Ack(tt.wantDest)
			if len(mqttClient.PublishedTo(ackTopic)) != 1 {
				t.Errorf("no ack on %s", ackTopic)
			}
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name       string
		cmd        CommandMessage
		topicAddr  string
		busErr     error
		wantStatus AckStatus
		wantCode   string
		wantCalls  int
	}{
		{"unknown action", CommandMessage{Action: "toggle"}, "1/2/3", nil, AckFailed, ErrCodeInvalidCommand, 0},
		{"no payload", CommandMessage{Action: ActionWrite}, "1/2/3", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"bad hex", CommandMessage{Action: ActionWrite, Data: "zz"}, "1/2/3", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"value without DPT", CommandMessage{Action: ActionWrite, Value: 1}, "7/7/7", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"value out of range", CommandMessage{Action: ActionWrite, Value: "nope", DPT: "9.001"}, "1/2/3", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"invalid address", CommandMessage{Action: ActionWrite, Data: "01"}, "99/99/99", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"no address", CommandMessage{Action: ActionWrite, Data: "01"}, "", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"address mismatch", CommandMessage{Action: ActionWrite, Address: "1/2/4", Data: "01"}, "1/2/3", nil, AckFailed, ErrCodeInvalidParameters, 0},
		{"not connected", CommandMessage{Action: ActionWrite, Data: "01"}, "1/2/3", client.ErrNotConnected, AckFailed, ErrCodeNotConnected, 1},
		{"read timeout", CommandMessage{Action: ActionRead}, "1/2/3", fmt.Errorf("%w: no response", client.ErrTimeout), AckTimeout, ErrCodeTimeout, 1},
		{"other failure", CommandMessage{Action: ActionWrite, Data: "01"}, "1/2/3", errors.New("boom"), AckFailed, ErrCodeDeviceUnreachable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, bus := newTestBridge(t)
			bus.err = tt.busErr

			ack := b.Execute(tt.cmd, tt.topicAddr)
			if ack.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
			if n := len(bus.GetCalls()); n != tt.wantCalls {
				t.Errorf("bus calls = %d, want %d", n, tt.wantCalls)
			}
			if c := b.Counters(); c.CommandsFailed != 1 || c.CommandsHandled != 1 {
				t.Errorf("Counters() = %+v, want 1 handled and failed", c)
			}
		})
	}
}

func TestExecute_Read(t *testing.T) {
	b, mqttClient, bus := newTestBridge(t)
	bus.readData = []byte{0x0C, 0x1A}

	ack := b.Execute(CommandMessage{ID: "r1", Action: ActionRead}, "1/2/3")
	if ack.Status != AckAccepted {
		t.Fatalf("ack = %+v, want accepted", ack)
	}
	if ack.CommandID != "r1" {
		t.Errorf("CommandID = %q, want r1", ack.CommandID)
	}
	if ack.Data != "0c1a" {
		t.Errorf("Data = %q, want 0c1a", ack.Data)
	}
	want, _ := dpt.Decode("9.001", bus.readData)
	if !reflect.DeepEqual(ack.Value, want) {
		t.Errorf("Value = %v, want %v", ack.Value, want)
	}

	pub := mqttClient.WaitFor(t, testTopics.Ack("1/2/3"))
	var got AckMessage
	if err := json.Unmarshal(pub.Payload, &got); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if got.CommandID != "r1" || got.Action != ActionRead || got.Address != "1/2/3" {
		t.Errorf("published ack = %+v", got)
	}
}

func TestHandleCommand_Malformed(t *testing.T) {
	b, mqttClient, bus := newTestBridge(t)

	ack := b.HandleCommand("1/2/3", []byte("{not json"))
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("ack = %+v, want INVALID_COMMAND", ack)
	}
	if len(bus.GetCalls()) != 0 {
		t.Error("malformed command reached the bus")
	}
	if len(mqttClient.PublishedTo(testTopics.Ack("1/2/3"))) != 1 {
		t.Error("no ack published for malformed command")
	}
}

func TestHandleMQTTMessage(t *testing.T) {
	b, mqttClient, bus := newTestBridge(t)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	payload := []byte(`{"id":"c1","action":"write","value":true}`)
	err := mqttClient.SimulateMessage(testTopics.AllCommands(), testTopics.Command("1/2/5"), payload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	pub := mqttClient.WaitFor(t, testTopics.Ack("1/2/5"))
	var ack AckMessage
	if err := json.Unmarshal(pub.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "c1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v", ack)
	}
	if calls := bus.GetCalls(); len(calls) != 1 || calls[0].Method != "Write" {
		t.Errorf("bus calls = %+v", calls)
	}
}

func TestHandleMQTTMessage_BadTopic(t *testing.T) {
	b, _, _ := newTestBridge(t)
	if err := b.handleMQTTMessage("knxnetip/command/%zz", nil); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("handleMQTTMessage() error = %v, want ErrInvalidCommand", err)
	}
}

func TestHandleTelegram(t *testing.T) {
	sink := &mockSink{}
	b, mqttClient, bus := newTestBridge(t, sink)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name         string
		apci         string
		dest         string
		data         []byte
		wantRetained bool
		wantValue    bool
	}{
		{"write with DPT", "GroupValue_Write", "1/2/3", []byte{0x0C, 0x1A}, true, true},
		{"response", "GroupValue_Response", "1/2/5", []byte{0x01}, true, true},
		{"read", "GroupValue_Read", "1/2/3", nil, false, false},
		{"unknown DPT", "GroupValue_Write", "4/4/4", []byte{0x01}, true, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus.Emit(client.Event{
				Name:        client.EventAll,
				APCI:        tt.apci,
				Source:      address.MustDevice("1.1.5"),
				Destination: address.MustGroup(tt.dest).Address(),
				Data:        tt.data,
			})

			msgs := mqttClient.PublishedTo(testTopics.Telegram(tt.dest))
			if len(msgs) == 0 {
				t.Fatalf("nothing published to %s", testTopics.Telegram(tt.dest))
			}
			pub := msgs[len(msgs)-1]
			if pub.Retained != tt.wantRetained {
				t.Errorf("Retained = %v, want %v", pub.Retained, tt.wantRetained)
			}

			var msg TelegramMessage
			if err := json.Unmarshal(pub.Payload, &msg); err != nil {
				t.Fatalf("unmarshal telegram: %v", err)
			}
			if msg.Source != "1.1.5" || msg.Destination != tt.dest || msg.APCI != tt.apci {
				t.Errorf("telegram = %+v", msg)
			}
			if (msg.Value != nil) != tt.wantValue {
				t.Errorf("Value = %v, want present=%v", msg.Value, tt.wantValue)
			}

			got := sink.get()
			if len(got) != i+1 {
				t.Fatalf("sink telegrams = %d, want %d", len(got), i+1)
			}
			if !got[i].Group || got[i].Destination != tt.dest {
				t.Errorf("sink telegram = %+v", got[i])
			}
		})
	}

	if c := b.Counters(); c.TelegramsPublished != uint64(len(tests)) {
		t.Errorf("TelegramsPublished = %d, want %d", c.TelegramsPublished, len(tests))
	}
}

func TestHandleTelegram_MQTTDisconnected(t *testing.T) {
	sink := &mockSink{}
	b, mqttClient, _ := newTestBridge(t, sink)
	mqttClient.SetConnected(false)

	b.handleTelegram(client.Event{
		APCI:        "GroupValue_Write",
		Source:      address.MustDevice("1.1.5"),
		Destination: address.MustGroup("1/2/5").Address(),
		Data:        []byte{0x01},
	})

	if n := len(mqttClient.PublishedTo(testTopics.Telegram("1/2/5"))); n != 0 {
		t.Errorf("published %d telegrams while disconnected", n)
	}
	if len(sink.get()) != 1 {
		t.Error("sinks skipped while MQTT disconnected")
	}
}

func TestResolveAddress(t *testing.T) {
	tests := []struct {
		body, topic string
		want        string
		wantErr     bool
	}{
		{"", "1/2/3", "1/2/3", false},
		{"1/2/3", "", "1/2/3", false},
		{"1/2/3", "1/2/3", "1/2/3", false},
		{"1.1.1", "1/2/3", "", true},
		{"", "", "", true},
		{"x", "", "", true},
	}
	for _, tt := range tests {
		got, err := resolveAddress(tt.body, tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveAddress(%q, %q) error = %v, wantErr %v", tt.body, tt.topic, err, tt.wantErr)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("resolveAddress(%q, %q) = %s, want %s", tt.body, tt.topic, got, tt.want)
		}
	}
}
