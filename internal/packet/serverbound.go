package packet

import (
	"fmt"
	"regexp"
)

// tokenPattern is the URL-safe alphabet accepted for tokens and ids.
var tokenPattern = regexp.MustCompile(`^[\w-]+$`)

// Serverbound is a packet sent by the client to the server.
type Serverbound interface {
	Tag() Tag
	serverbound()
}

// ClientDeclaration authenticates the connection with an access token.
type ClientDeclaration struct {
	AccessToken string `json:"accessToken"`
}

// ClientReady signals that the client finished loading.
type ClientReady struct{}

// RequestCosmetics asks for the cosmetic catalogue.
type RequestCosmetics struct{}

// RequestUserCosmetics asks for the cosmetics owned by the player.
type RequestUserCosmetics struct{}

// EquipCosmetic equips an owned cosmetic.
type EquipCosmetic struct {
	CosmeticType CosmeticType `json:"cosmeticType"`
}

// UnequipCosmetic removes an equipped cosmetic.
type UnequipCosmetic struct {
	CosmeticType CosmeticType `json:"cosmeticType"`
}

func (*ClientDeclaration) Tag() Tag    { return TagClientDeclaration }
func (*ClientReady) Tag() Tag          { return TagClientReady }
func (*RequestCosmetics) Tag() Tag     { return TagRequestCosmetics }
func (*RequestUserCosmetics) Tag() Tag { return TagRequestUserCosmetics }
func (*EquipCosmetic) Tag() Tag        { return TagEquipCosmetic }
func (*UnequipCosmetic) Tag() Tag      { return TagUnequipCosmetic }

func (*ClientDeclaration) serverbound()    {}
func (*ClientReady) serverbound()          {}
func (*RequestCosmetics) serverbound()     {}
func (*RequestUserCosmetics) serverbound() {}
func (*EquipCosmetic) serverbound()        {}
func (*UnequipCosmetic) serverbound()      {}

func (*ClientReady) nullPayload()          {}
func (*RequestCosmetics) nullPayload()     {}
func (*RequestUserCosmetics) nullPayload() {}

func (p *ClientDeclaration) validate() []Issue {
	var issues []Issue
	if len(p.AccessToken) != TokenLength {
		issues = append(issues, Issue{
			Path:    "accessToken",
			Message: fmt.Sprintf("String must contain exactly %d character(s)", TokenLength),
		})
	}
	if !tokenPattern.MatchString(p.AccessToken) {
		issues = append(issues, Issue{Path: "accessToken", Message: "Invalid token format"})
	}
	return issues
}

func (p *EquipCosmetic) validate() []Issue {
	return checkEnum("cosmeticType", p.CosmeticType, cosmeticTypes)
}

func (p *UnequipCosmetic) validate() []Issue {
	return checkEnum("cosmeticType", p.CosmeticType, cosmeticTypes)
}

var serverboundPackets = map[Tag]func() Serverbound{
	TagClientDeclaration:    func() Serverbound { return &ClientDeclaration{} },
	TagClientReady:          func() Serverbound { return &ClientReady{} },
	TagRequestCosmetics:     func() Serverbound { return &RequestCosmetics{} },
	TagRequestUserCosmetics: func() Serverbound { return &RequestUserCosmetics{} },
	TagEquipCosmetic:        func() Serverbound { return &EquipCosmetic{} },
	TagUnequipCosmetic:      func() Serverbound { return &UnequipCosmetic{} },
}

// IsServerbound reports whether tag names a serverbound packet.
func IsServerbound(tag Tag) bool {
	_, ok := serverboundPackets[tag]
	return ok
}

// DecodeServerbound parses and strictly validates a serverbound packet.
//
// The tag is read first and selects the payload shape; the payload is never
// decoded speculatively. Validation failures are returned as *ValidationError.
func DecodeServerbound(raw []byte) (Message, error) {
	p, sentAt, err := decode(raw, serverboundPackets)
	if err != nil {
		return Message{}, err
	}
	return Message{Packet: p, SentAt: sentAt}, nil
}
