// Package media implements the selective-forwarding data model: a fixed
// pool of workers hosting per-room routers, with transports, producers
// and consumers hanging off them. It owns no sockets; signaling drives
// it and packets are handed in through Producer.WriteRTP.
package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RtpCapabilities lists the codecs an endpoint can send or receive.
type RtpCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// RtpParameters describe a single encoded track as published by a peer.
type RtpParameters struct {
	Codec webrtc.RTPCodecCapability `json:"codec"`
	SSRC  uint32                    `json:"ssrc"`
}

// DefaultCapabilities is the process-wide codec table: one audio codec,
// one video codec, fixed at startup and immutable after.
func DefaultCapabilities() RtpCapabilities {
	return RtpCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}}
}

func codecMatch(a, b webrtc.RTPCodecCapability) bool {
	return strings.EqualFold(a.MimeType, b.MimeType) &&
		a.ClockRate == b.ClockRate &&
		a.Channels == b.Channels
}

func (c RtpCapabilities) Supports(codec webrtc.RTPCodecCapability) bool {
	for _, have := range c.Codecs {
		if codecMatch(have, codec) {
			return true
		}
	}
	return false
}

// Intersect keeps only the codecs both sides support. Used by the client
// device when loading router capabilities.
func (c RtpCapabilities) Intersect(other RtpCapabilities) RtpCapabilities {
	out := RtpCapabilities{}
	for _, codec := range c.Codecs {
		if other.Supports(codec) {
			out.Codecs = append(out.Codecs, codec)
		}
	}
	return out
}

func (c RtpCapabilities) HasKind(kind Kind) bool {
	for _, codec := range c.Codecs {
		if KindOf(codec) == kind {
			return true
		}
	}
	return false
}

// CanConsume reports whether a receiver with caps can decode a track
// published with params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	return caps.Supports(params.Codec)
}

// KindOf derives the media kind from a codec's MIME type.
func KindOf(codec webrtc.RTPCodecCapability) Kind {
	if strings.HasPrefix(strings.ToLower(codec.MimeType), "audio/") {
		return KindAudio
	}
	return KindVideo
}
