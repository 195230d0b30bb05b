package mqtt

import (
	"net/url"
	"strings"
)

// DefaultTopicPrefix is the root of every knxnetip topic.
const DefaultTopicPrefix = "knxnetip"

// Topics builds the knxnetip topic hierarchy under a configurable prefix:
//
//	{prefix}/telegram/{address}   bus telegrams (bridge → subscribers)
//	{prefix}/command/{address}    commands (subscribers → bridge)
//	{prefix}/ack/{address}        command acknowledgements
//	{prefix}/health               retained bridge health
//	{prefix}/status               retained online/offline (LWT)
//
// Addresses are path-escaped so "1/2/3" occupies a single topic level.
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimRight(strings.TrimSpace(t.Prefix), "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Telegram returns the topic an observed telegram for address is published on.
//
// Example: knxnetip/telegram/1%2F2%2F3
func (t Topics) Telegram(address string) string {
	return t.prefix() + "/telegram/" + EncodeTopicAddress(address)
}

// Command returns the command topic for address.
//
// Example: knxnetip/command/1%2F2%2F3
func (t Topics) Command(address string) string {
	return t.prefix() + "/command/" + EncodeTopicAddress(address)
}

// Ack returns the acknowledgement topic for address.
//
// Example: knxnetip/ack/1%2F2%2F3
func (t Topics) Ack(address string) string {
	return t.prefix() + "/ack/" + EncodeTopicAddress(address)
}

// Health returns the retained health topic.
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// SystemStatus returns the retained online/offline topic, also used as the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/status"
}

// AllTelegrams matches every telegram topic.
func (t Topics) AllTelegrams() string {
	return t.prefix() + "/telegram/+"
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllAcks matches every acknowledgement topic.
func (t Topics) AllAcks() string {
	return t.prefix() + "/ack/+"
}

// AllTopics matches the whole hierarchy.
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}

// Address extracts the decoded address from the last level of topic.
func (t Topics) Address(topic string) (string, bool) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return "", false
	}
	return DecodeTopicAddress(topic[i+1:])
}

// EncodeTopicAddress escapes an address for use as a single topic level.
//
// Example: "1/2/3" → "1%2F2%2F3"
func EncodeTopicAddress(address string) string {
	return url.PathEscape(address)
}

// DecodeTopicAddress reverses EncodeTopicAddress.
func DecodeTopicAddress(level string) (string, bool) {
	s, err := url.PathUnescape(level)
	if err != nil {
		return "", false
	}
	return s, true
}
