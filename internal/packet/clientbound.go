package packet

import (
	"encoding/json"
	"fmt"
)

// Clientbound is a packet sent by the server to the client.
type Clientbound interface {
	Tag() Tag
	clientbound()
}

// Keepalive carries no payload.
type Keepalive struct{}

// Acknowledge is the first packet of every connection.
type Acknowledge struct {
	ConnectionID string `json:"connectionId"`
}

// Warning is a non-fatal notice.
type Warning struct {
	Message string      `json:"message"`
	Code    WarningCode `json:"code"`
	Cause   any         `json:"cause,omitempty"`
}

// Error reports a failure. Fatal errors are followed by a close.
type Error struct {
	Message string    `json:"message,omitempty"`
	Code    ErrorCode `json:"code"`
	Fatal   bool      `json:"fatal"`
	Cause   any       `json:"cause,omitempty"`
}

// Welcome is sent once authentication succeeds.
type Welcome struct {
	ServerVersion string        `json:"serverVersion"`
	Environment   Environment   `json:"environment"`
	FeatureFlags  []FeatureFlag `json:"featureFlags"`
}

// SetEnforcedState pushes a boolean flag the client must obey.
// Only the connection's SetEnforcedState helper may send it.
type SetEnforcedState struct {
	Name  EnforcedStateName `json:"name"`
	Value bool              `json:"value"`
}

// Kick precedes a server-initiated close caused by session invalidation.
type Kick struct {
	Reason KickReason `json:"reason"`
}

// ForceScene directs the client to a named view.
type ForceScene struct {
	Scene SceneName `json:"scene"`
}

func (*Keepalive) Tag() Tag        { return TagKeepalive }
func (*Acknowledge) Tag() Tag      { return TagAcknowledge }
func (*Warning) Tag() Tag          { return TagWarning }
func (*Error) Tag() Tag            { return TagError }
func (*Welcome) Tag() Tag          { return TagWelcome }
func (*SetEnforcedState) Tag() Tag { return TagSetEnforcedState }
func (*Kick) Tag() Tag             { return TagKick }
func (*ForceScene) Tag() Tag       { return TagForceScene }

func (*Keepalive) clientbound()        {}
func (*Acknowledge) clientbound()      {}
func (*Warning) clientbound()          {}
func (*Error) clientbound()            {}
func (*Welcome) clientbound()          {}
func (*SetEnforcedState) clientbound() {}
func (*Kick) clientbound()             {}
func (*ForceScene) clientbound()       {}

func (*Keepalive) nullPayload() {}

func (p *Acknowledge) validate() []Issue {
	if !tokenPattern.MatchString(p.ConnectionID) {
		return []Issue{{Path: "connectionId", Message: "Invalid token format"}}
	}
	return nil
}

func (p *Warning) validate() []Issue {
	return checkEnum("code", p.Code, warningCodes)
}

func (p *Error) validate() []Issue {
	return checkEnum("code", p.Code, errorCodes)
}

func (p *Welcome) validate() []Issue {
	issues := checkEnum("environment", p.Environment, environments)
	if p.FeatureFlags == nil {
		issues = append(issues, Issue{Path: "featureFlags", Message: "Expected array, received null"})
	}
	for i, flag := range p.FeatureFlags {
		issues = append(issues, checkEnum(fmt.Sprintf("featureFlags.%d", i), flag, featureFlags)...)
	}
	return issues
}

func (p *SetEnforcedState) validate() []Issue {
	return checkEnum("name", p.Name, enforcedStateNames)
}

func (p *Kick) validate() []Issue {
	return checkEnum("reason", p.Reason, kickReasons)
}

func (p *ForceScene) validate() []Issue {
	return checkEnum("scene", p.Scene, sceneNames)
}

var clientboundPackets = map[Tag]func() Clientbound{
	TagKeepalive:        func() Clientbound { return &Keepalive{} },
	TagAcknowledge:      func() Clientbound { return &Acknowledge{} },
	TagWarning:          func() Clientbound { return &Warning{} },
	TagError:            func() Clientbound { return &Error{} },
	TagWelcome:          func() Clientbound { return &Welcome{} },
	TagSetEnforcedState: func() Clientbound { return &SetEnforcedState{} },
	TagKick:             func() Clientbound { return &Kick{} },
	TagForceScene:       func() Clientbound { return &ForceScene{} },
}

// envelope is the wire shape shared by both packet families.
type envelope struct {
	ID     Tag      `json:"id"`
	Data   any      `json:"data"`
	SentAt *float64 `json:"sentAt,omitempty"`
}

// Encode validates p and serializes it as a JSON text frame.
// sentAt is left out; callers that want it use EncodeAt.
func Encode(p Clientbound) ([]byte, error) {
	return EncodeAt(p, nil)
}

// EncodeAt is Encode with an explicit sentAt value.
func EncodeAt(p Clientbound, sentAt *float64) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode: nil packet")
	}
	if v, ok := p.(validator); ok {
		if err := invalid(prefixed("data", v.validate())...); err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.Tag(), err)
		}
	}

	env := envelope{ID: p.Tag(), Data: p, SentAt: sentAt}
	if _, ok := p.(nullable); ok {
		env.Data = nil
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Tag(), err)
	}
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("packet size %d exceeds maximum %d bytes", len(out), MaxFrameSize)
	}
	return out, nil
}

// DecodeClientbound parses and strictly validates a clientbound packet.
func DecodeClientbound(raw []byte) (Clientbound, error) {
	p, _, err := decode(raw, clientboundPackets)
	return p, err
}
