package signal

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/nhan2892005/study-space-media/internal/core"
	"github.com/nhan2892005/study-space-media/internal/media"
)

// Request is the client→server envelope. Every request is answered with
// a response carrying the same id; pushes have no id and are never
// acknowledged.
type Request struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID    uint64     `json:"id"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

type push struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Wire error codes. Clients treat every code as recoverable except
// repeated "capacity", which should back off.
const (
	codeNotAuthenticated = "notAuthenticated"
	codeNotMember        = "notMember"
	codeCapacity         = "capacity"
	codeNotFound         = "notFound"
	codeNotOwner         = "notOwner"
	codeAlreadyConnected = "alreadyConnected"
	codeCannotConsume    = "cannotConsume"
	codeBadRequest       = "badRequest"
)

func errCode(err error) string {
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		return codeNotAuthenticated
	case errors.Is(err, core.ErrNotMember):
		return codeNotMember
	case errors.Is(err, media.ErrNoWorkerCapacity), errors.Is(err, media.ErrRoomFull):
		return codeCapacity
	case errors.Is(err, media.ErrTransportNotFound),
		errors.Is(err, media.ErrProducerNotFound),
		errors.Is(err, media.ErrConsumerNotFound),
		errors.Is(err, media.ErrRouterClosed):
		return codeNotFound
	case errors.Is(err, media.ErrNotTransportOwner), errors.Is(err, media.ErrNotConsumerOwner):
		return codeNotOwner
	case errors.Is(err, media.ErrAlreadyConnected):
		return codeAlreadyConnected
	case errors.Is(err, media.ErrCannotConsume),
		errors.Is(err, media.ErrUnsupportedCodec),
		errors.Is(err, media.ErrKindMismatch):
		return codeCannotConsume
	default:
		return codeBadRequest
	}
}

// Per-request payloads. Closed variants: unknown fields are rejected at
// the boundary, required fields enforced by the validator.

type joinChannelPayload struct {
	ChannelID string `json:"channelId" validate:"required"`
	ServerID  string `json:"serverId"`
}

type leaveChannelPayload struct {
	ChannelID string `json:"channelId"`
}

type getCapsPayload struct {
	ChannelID string `json:"channelId" validate:"required"`
}

type createTransportPayload struct {
	ChannelID string `json:"channelId" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=send recv"`
}

type connectTransportPayload struct {
	TransportID    string                `json:"transportId" validate:"required"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type producePayload struct {
	ChannelID     string              `json:"channelId" validate:"required"`
	TransportID   string              `json:"transportId" validate:"required"`
	Kind          string              `json:"kind" validate:"required,oneof=audio video"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
	Tag           string              `json:"tag"`
}

type closeProducerPayload struct {
	ProducerID string `json:"producerId" validate:"required"`
}

type consumePayload struct {
	ChannelID       string                `json:"channelId" validate:"required"`
	TransportID     string                `json:"transportId" validate:"required"`
	ProducerID      string                `json:"producerId" validate:"required"`
	RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
}

type resumeConsumerPayload struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

type messagePayload struct {
	ChannelID string `json:"channelId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type streamPresencePayload struct {
	ChannelID string `json:"channelId" validate:"required"`
}

func decode[T any](ctl *Controller, raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if err := ctl.validate.Struct(v); err != nil {
		return v, err
	}
	return v, nil
}
