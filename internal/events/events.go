// Package events decodes gateway dispatches into typed events and routes them to handlers.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/luciancaetano/kephascord/internal/protocol"
	"github.com/luciancaetano/kephascord/internal/rest"
)

// Any registers a handler for every event type.
const Any = "*"

// Event types decoded into dedicated structs. Every other type is delivered as *Raw.
const (
	TypeReady             = "READY"
	TypeResumed           = "RESUMED"
	TypeMessageCreate     = "MESSAGE_CREATE"
	TypeMessageUpdate     = "MESSAGE_UPDATE"
	TypeMessageDelete     = "MESSAGE_DELETE"
	TypeGuildCreate       = "GUILD_CREATE"
	TypeGuildDelete       = "GUILD_DELETE"
	TypeInteractionCreate = "INTERACTION_CREATE"
)

// Event is a decoded dispatch. Type must not dereference its receiver so it
// can be called on a nil pointer of the concrete type.
type Event interface {
	Type() string
}

// UnavailableGuild is a guild the client is a member of but has not received yet.
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// Ready completes an identify handshake.
type Ready struct {
	Version          int                `json:"v"`
	User             rest.User          `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            []int              `json:"shard,omitempty"`
	Application      struct {
		ID string `json:"id"`
	} `json:"application"`
}

// Resumed completes a resume handshake once every missed event was replayed.
type Resumed struct{}

// MessageCreate is sent when a message is posted.
type MessageCreate struct {
	rest.Message
}

// MessageUpdate is sent when a message is edited.
type MessageUpdate struct {
	rest.Message
}

// MessageDelete is sent when a message is deleted.
type MessageDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

// GuildCreate is sent when a guild becomes available or the client joins one.
type GuildCreate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// GuildDelete is sent when a guild becomes unavailable or the client leaves it.
type GuildDelete struct {
	UnavailableGuild
}

// InteractionCreate is sent when a user invokes a command or component.
type InteractionCreate struct {
	rest.Interaction
}

// Raw carries a dispatch without a dedicated type.
type Raw struct {
	EventType string
	Data      json.RawMessage
}

func (*Ready) Type() string             { return TypeReady }
func (*Resumed) Type() string           { return TypeResumed }
func (*MessageCreate) Type() string     { return TypeMessageCreate }
func (*MessageUpdate) Type() string     { return TypeMessageUpdate }
func (*MessageDelete) Type() string     { return TypeMessageDelete }
func (*GuildCreate) Type() string       { return TypeGuildCreate }
func (*GuildDelete) Type() string       { return TypeGuildDelete }
func (*InteractionCreate) Type() string { return TypeInteractionCreate }

// Type returns the dispatch type, or Any on a nil Raw.
func (r *Raw) Type() string {
	if r == nil {
		return Any
	}
	return r.EventType
}

// Decode decodes a dispatch into its typed event.
func Decode(d *protocol.Dispatch) (Event, error) {
	var ev Event
	switch d.Type {
	case TypeReady:
		ev = &Ready{}
	case TypeResumed:
		return &Resumed{}, nil
	case TypeMessageCreate:
		ev = &MessageCreate{}
	case TypeMessageUpdate:
		ev = &MessageUpdate{}
	case TypeMessageDelete:
		ev = &MessageDelete{}
	case TypeGuildCreate:
		ev = &GuildCreate{}
	case TypeGuildDelete:
		ev = &GuildDelete{}
	case TypeInteractionCreate:
		ev = &InteractionCreate{}
	default:
		return &Raw{EventType: d.Type, Data: d.Data}, nil
	}

	if err := json.Unmarshal(d.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Type, err)
	}
	return ev, nil
}
