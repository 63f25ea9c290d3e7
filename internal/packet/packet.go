// Package packet defines the tagged JSON packet protocol exchanged between game
// clients and the server.
//
// Two disjoint families exist: serverbound packets (client to server) and
// clientbound packets (server to client). Each family member is identified by a
// string tag and has exactly one payload shape.
package packet

import (
	"strings"
)

const (
	// MaxFrameSize bounds a single encoded or decoded packet.
	MaxFrameSize = 1 << 20

	// TokenLength is the exact length of an access token.
	TokenLength = 32
)

// Tag is the string discriminator identifying a packet's shape.
type Tag string

// Serverbound tags
const (
	TagClientDeclaration    Tag = "client_declaration"
	TagClientReady          Tag = "client_ready"
	TagRequestCosmetics     Tag = "request_cosmetics"
	TagRequestUserCosmetics Tag = "request_user_cosmetics"
	TagEquipCosmetic        Tag = "equip_cosmetic"
	TagUnequipCosmetic      Tag = "unequip_cosmetic"
)

// Clientbound tags
const (
	TagKeepalive        Tag = "keepalive"
	TagAcknowledge      Tag = "acknowledge"
	TagWarning          Tag = "warning"
	TagError            Tag = "error"
	TagWelcome          Tag = "welcome"
	TagSetEnforcedState Tag = "set_enforced_state"
	TagKick             Tag = "kick"
	TagForceScene       Tag = "force_scene"
)

// Message is a validated serverbound packet together with its envelope fields.
type Message struct {
	Packet Serverbound
	SentAt *float64
}

// Tag returns the tag of the wrapped packet.
func (m Message) Tag() Tag {
	if m.Packet == nil {
		return ""
	}
	return m.Packet.Tag()
}

// Issue is a single validation failure.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Message + " at " + i.Path
}

// ValidationError reports every issue found while validating a packet.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, ", ")
}

func invalid(issues ...Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func prefixed(prefix string, issues []Issue) []Issue {
	for i := range issues {
		if issues[i].Path == "" {
			issues[i].Path = prefix
		} else {
			issues[i].Path = prefix + "." + issues[i].Path
		}
	}
	return issues
}
