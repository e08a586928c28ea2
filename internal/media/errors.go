package media

import "errors"

// Registry errors.
var (
	ErrNoWorkerCapacity = errors.New("no media worker has spare capacity")
	ErrRoomFull         = errors.New("room is full")
)

// Router and transport errors.
var (
	ErrRouterClosed          = errors.New("router is closed")
	ErrTransportNotFound     = errors.New("transport not found")
	ErrNotTransportOwner     = errors.New("transport belongs to another session")
	ErrTransportClosed       = errors.New("transport is closed")
	ErrAlreadyConnected      = errors.New("transport already connected")
	ErrTransportNotConnected = errors.New("transport not connected")
	ErrWrongDirection        = errors.New("wrong transport direction")
)

// Producer and consumer errors.
var (
	ErrProducerNotFound = errors.New("producer not found")
	ErrProducerClosed   = errors.New("producer is closed")
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrNotConsumerOwner = errors.New("consumer belongs to another session")
	ErrConsumerClosed   = errors.New("consumer is closed")
	ErrCannotConsume    = errors.New("receiver capabilities cannot decode producer")
	ErrUnsupportedCodec = errors.New("codec not supported by router")
	ErrKindMismatch     = errors.New("kind does not match codec")
)
