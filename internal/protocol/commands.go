package protocol

import "encoding/json"

// Intent is a bit set of event groups the client subscribes to on identify.
type Intent int

const (
	IntentGuilds                 Intent = 1 << 0
	IntentGuildMembers           Intent = 1 << 1
	IntentGuildModeration        Intent = 1 << 2
	IntentGuildPresences         Intent = 1 << 8
	IntentGuildMessages          Intent = 1 << 9
	IntentGuildMessageReactions  Intent = 1 << 10
	IntentDirectMessages         Intent = 1 << 12
	IntentDirectMessageReactions Intent = 1 << 13
	IntentMessageContent         Intent = 1 << 15

	IntentsDefault = IntentGuilds | IntentGuildMessages | IntentDirectMessages
)

// Heartbeat carries the last sequence the client received, or null before any.
type Heartbeat struct {
	Sequence *int64
}

func (Heartbeat) Opcode() Opcode { return OpHeartbeat }

// MarshalJSON encodes the heartbeat as a bare sequence number.
func (h Heartbeat) MarshalJSON() ([]byte, error) {
	if h.Sequence == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*h.Sequence)
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify starts a new session.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
	Intents        Intent             `json:"intents"`
}

func (Identify) Opcode() Opcode { return OpIdentify }

// Resume replays the events missed since Sequence on an existing session.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

func (Resume) Opcode() Opcode { return OpResume }

// Activity is shown in the client's presence.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// PresenceUpdate changes the client's presence.
type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

func (PresenceUpdate) Opcode() Opcode { return OpPresenceUpdate }

// RequestGuildMembers asks the server to stream a guild's members as
// GUILD_MEMBERS_CHUNK dispatches.
type RequestGuildMembers struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}

func (RequestGuildMembers) Opcode() Opcode { return OpRequestGuildMembers }
