package bridge

import (
	"fmt"
	"strings"
)

// Topics builds and parses the bridge's MQTT topic tree under a
// configured prefix:
//
//	<prefix>/<area>/<device>/<channel>/state   retained channel state
//	<prefix>/<area>/<device>/<channel>/set     inbound commands
//	<prefix>/<area>/<device>/<button>/event    classified button presses
//	<prefix>/bridge/status                     retained health, also LWT
//
// Area and device segments are slugs derived from the hub's names, so
// the topic contract survives renames only when the names survive.
type Topics struct {
	Prefix string
}

// State returns the retained state topic for a channel.
func (t Topics) State(area, device, channel string) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", t.Prefix, area, device, channel)
}

// ButtonEvent returns the topic for classified button presses.
func (t Topics) ButtonEvent(area, device, button string) string {
	return fmt.Sprintf("%s/%s/%s/%s/event", t.Prefix, area, device, button)
}

// Health returns the retained bridge status topic, also used as the LWT.
func (t Topics) Health() string {
	return t.Prefix + "/bridge/status"
}

// CommandFilter returns the subscription filter covering the whole
// command tree.
func (t Topics) CommandFilter() string {
	return t.Prefix + "/+/+/+/set"
}

// ParseCommand splits a command topic into its area, device, and
// channel segments.
//
// Parsing is total: any topic that is not exactly
// <prefix>/<area>/<device>/<channel>/set with non-empty segments
// returns ErrMalformedCommand. Nothing here consults the registry;
// whether the device exists is the router's question.
func (t Topics) ParseCommand(topic string) (area, device, channel string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return "", "", "", fmt.Errorf("%w: %q has %d segments, want 5", ErrMalformedCommand, topic, len(parts))
	}
	if parts[0] != t.Prefix {
		return "", "", "", fmt.Errorf("%w: %q outside prefix %q", ErrMalformedCommand, topic, t.Prefix)
	}
	if parts[4] != "set" {
		return "", "", "", fmt.Errorf("%w: %q does not end in /set", ErrMalformedCommand, topic)
	}
	for _, part := range parts[1:4] {
		if part == "" || strings.ContainsAny(part, "+#") {
			return "", "", "", fmt.Errorf("%w: %q has an empty or wildcard segment", ErrMalformedCommand, topic)
		}
	}
	return parts[1], parts[2], parts[3], nil
}

// Slugify converts a hub name to a topic segment: lowercase, spaces
// and underscores become dashes, everything outside [a-z0-9-] is
// dropped, runs of dashes collapse.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastDash := true // suppress leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '_' || r == '-':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
