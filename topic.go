package mq

import (
	"strings"
	"unicode/utf8"
)

// MatchTopic reports whether topic matches filter, honoring the MQTT
// wildcards '+' (single level) and '#' (multi-level, terminal only). It is
// exported so callers implementing their own local routing (e.g. on top of
// WithDefaultPublishHandler) can reuse the broker-equivalent matching rules.
func MatchTopic(filter, topic string) bool {
	return matchTopic(filter, topic)
}

// matchTopic checks if a topic matches a topic filter with MQTT wildcards.
// Supports:
// - '+' matches a single level
// - '#' matches multiple levels (must be last character)
func matchTopic(filter, topic string) bool {
	// MQTT-4.7.2-1: a Topic Filter beginning with a wildcard must never
	// match a Topic Name beginning with '$'. Enforced here for local
	// dispatch even though the rule is framed as a server obligation.
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx := 0
	tIdx := 0
	fLen := len(filter)
	tLen := len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int

		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int

		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel == "+" {
			// single-level wildcard matches this level
		} else if fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}

		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}

// MQTT specification limits (defaults when not configured).
const (
	// DefaultMaxTopicLength is the maximum length of an MQTT topic (2 bytes
	// length prefix).
	DefaultMaxTopicLength = 65535

	// DefaultMaxPayloadSize is the maximum size of an MQTT message payload
	// (bounded by the 4-byte remaining-length varint).
	DefaultMaxPayloadSize = 268435455

	// DefaultMaxIncomingPacket is the maximum size of an incoming MQTT
	// packet the decoder will accept before failing with TooLarge.
	DefaultMaxIncomingPacket = 268435455

	// MaxClientIDLength is the MQTT 3.1.1 minimum a broker must accept.
	// The client does not enforce it; Validate() only caps ClientID at
	// 65535 bytes.
	MaxClientIDLength = 23
)

func getLimit(configured, defaultLimit int) int {
	if configured > 0 {
		return configured
	}
	return defaultLimit
}

// validatePublishTopic validates a topic for publishing: no wildcards, no
// null byte, valid UTF-8, within the configured length limit.
func validatePublishTopic(topic string, opts *clientOptions) error {
	if topic == "" {
		return invalidArgumentError("topic cannot be empty")
	}

	maxLen := getLimit(opts.MaxTopicLength, DefaultMaxTopicLength)
	if len(topic) > maxLen {
		return invalidArgumentError("topic length %d exceeds maximum %d", len(topic), maxLen)
	}

	if strings.Contains(topic, "+") {
		return invalidArgumentError("topic contains '+' which is not allowed in PUBLISH")
	}
	if strings.Contains(topic, "#") {
		return invalidArgumentError("topic contains '#' which is not allowed in PUBLISH")
	}
	if strings.Contains(topic, "\x00") {
		return invalidArgumentError("topic contains a null byte")
	}
	if !utf8.ValidString(topic) {
		return invalidArgumentError("topic is not valid UTF-8")
	}

	return nil
}

// validateSubscribeTopic validates a topic filter for subscribing: wildcards
// are allowed but must occupy a whole level, and '#' must be terminal.
func validateSubscribeTopic(topic string, opts *clientOptions) error {
	if topic == "" {
		return invalidArgumentError("topic filter cannot be empty")
	}

	maxLen := getLimit(opts.MaxTopicLength, DefaultMaxTopicLength)
	if len(topic) > maxLen {
		return invalidArgumentError("topic filter length %d exceeds maximum %d", len(topic), maxLen)
	}
	if strings.Contains(topic, "\x00") {
		return invalidArgumentError("topic filter contains a null byte")
	}
	if !utf8.ValidString(topic) {
		return invalidArgumentError("topic filter is not valid UTF-8")
	}

	parts := strings.Split(topic, "/")
	for i, part := range parts {
		if strings.Contains(part, "+") && part != "+" {
			return invalidArgumentError("single-level wildcard '+' must occupy an entire topic level")
		}
		if strings.Contains(part, "#") {
			if part != "#" {
				return invalidArgumentError("multi-level wildcard '#' must occupy an entire topic level")
			}
			if i != len(parts)-1 {
				return invalidArgumentError("multi-level wildcard '#' must be the last level")
			}
		}
	}

	return nil
}

// validatePayloadSize validates message payload size against the configured
// (or spec-default) maximum.
func validatePayloadSize(payload []byte, opts *clientOptions) error {
	maxSize := getLimit(opts.MaxPayloadSize, DefaultMaxPayloadSize)
	if len(payload) > maxSize {
		return invalidArgumentError("payload size %d exceeds maximum %d", len(payload), maxSize)
	}
	return nil
}
