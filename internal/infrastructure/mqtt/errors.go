package mqtt

import "errors"

// Sentinel errors; operations wrap them with the paho cause.
var (
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed  = errors.New("mqtt: cannot connect to broker")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidQoS        = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic      = errors.New("mqtt: empty topic")
)
