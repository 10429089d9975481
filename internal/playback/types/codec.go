package types

import (
	"fmt"
	"strings"
)

// CodecID identifies the compression format of one elementary stream.
type CodecID uint8

const (
	CodecUnknown CodecID = iota
	// Audio codecs
	CodecAAC
	CodecOpus
	CodecPCM
	// Video codecs
	CodecH264
	CodecYUV
	CodecRGB
)

var codecNames = [...]string{
	CodecUnknown: "unknown",
	CodecAAC:     "aac",
	CodecOpus:    "opus",
	CodecPCM:     "pcm",
	CodecH264:    "h264",
	CodecYUV:     "yuv",
	CodecRGB:     "rgb",
}

// String returns the string representation of CodecID
func (c CodecID) String() string {
	if int(c) >= len(codecNames) {
		return codecNames[CodecUnknown]
	}
	return codecNames[c]
}

// IsAudio returns true if the codec carries audio
func (c CodecID) IsAudio() bool {
	return c == CodecAAC || c == CodecOpus || c == CodecPCM
}

// IsVideo returns true if the codec carries video
func (c CodecID) IsVideo() bool {
	return c == CodecH264 || c == CodecYUV || c == CodecRGB
}

// ParseCodecID maps a configuration name to a CodecID. Unrecognized names
// yield CodecUnknown and an error.
func ParseCodecID(s string) (CodecID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "avc" {
		name = "h264"
	}
	for i, n := range codecNames {
		if i != int(CodecUnknown) && n == name {
			return CodecID(i), nil
		}
	}
	return CodecUnknown, fmt.Errorf("unknown codec %q", s)
}

// StreamKind distinguishes the two elementary streams of a session.
type StreamKind uint8

const (
	KindAudio StreamKind = iota
	KindVideo
)

func (k StreamKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// ParseStreamKind accepts "audio" or "video".
func ParseStreamKind(s string) (StreamKind, error) {
	switch strings.ToLower(s) {
	case "audio":
		return KindAudio, nil
	case "video":
		return KindVideo, nil
	}
	return KindAudio, fmt.Errorf("unknown stream kind %q", s)
}
