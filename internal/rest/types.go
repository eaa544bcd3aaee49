package rest

import (
	"encoding/json"
	"time"
)

// User is a Discord user.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name,omitempty"`
	Avatar        *string `json:"avatar,omitempty"`
	Bot           bool    `json:"bot,omitempty"`
}

// Member is a user's membership in a guild.
type Member struct {
	User     *User     `json:"user,omitempty"`
	Nick     *string   `json:"nick,omitempty"`
	Roles    []string  `json:"roles"`
	JoinedAt time.Time `json:"joined_at"`
}

// Message is a message sent in a channel.
type Message struct {
	ID              string     `json:"id"`
	ChannelID       string     `json:"channel_id"`
	GuildID         string     `json:"guild_id,omitempty"`
	Author          *User      `json:"author,omitempty"`
	Member          *Member    `json:"member,omitempty"`
	Content         string     `json:"content"`
	Timestamp       time.Time  `json:"timestamp"`
	EditedTimestamp *time.Time `json:"edited_timestamp,omitempty"`
	TTS             bool       `json:"tts"`
	MentionEveryone bool       `json:"mention_everyone"`
	Mentions        []User     `json:"mentions"`
	Pinned          bool       `json:"pinned"`
	WebhookID       string     `json:"webhook_id,omitempty"`
	Type            int        `json:"type"`
}

// IsWebhook reports whether the message was generated by a webhook.
func (m *Message) IsWebhook() bool {
	return m.WebhookID != ""
}

// CreateMessageParams is the body of a create message request.
type CreateMessageParams struct {
	Content string `json:"content,omitempty"`
	TTS     bool   `json:"tts,omitempty"`
	Nonce   string `json:"nonce,omitempty"`
}

// Application is the bot's application.
type Application struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BotPublic   bool   `json:"bot_public"`
	Owner       *User  `json:"owner,omitempty"`
}

// SessionStartLimit describes how many sessions may still be started.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the gateway connection info for a bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// ApplicationCommandType is the kind of an application command.
type ApplicationCommandType int

const (
	CommandTypeChatInput ApplicationCommandType = 1
	CommandTypeUser      ApplicationCommandType = 2
	CommandTypeMessage   ApplicationCommandType = 3
)

// ApplicationCommandOptionType is the type of an application command option.
type ApplicationCommandOptionType int

const (
	OptionSubCommand      ApplicationCommandOptionType = 1
	OptionSubCommandGroup ApplicationCommandOptionType = 2
	OptionString          ApplicationCommandOptionType = 3
	OptionInteger         ApplicationCommandOptionType = 4
	OptionBoolean         ApplicationCommandOptionType = 5
	OptionUser            ApplicationCommandOptionType = 6
	OptionChannel         ApplicationCommandOptionType = 7
	OptionRole            ApplicationCommandOptionType = 8
	OptionMentionable     ApplicationCommandOptionType = 9
	OptionNumber          ApplicationCommandOptionType = 10
	OptionAttachment      ApplicationCommandOptionType = 11
)

// ApplicationCommandOptionChoice is a predefined value for an option.
type ApplicationCommandOptionChoice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ApplicationCommandOption is a declared option of an application command.
type ApplicationCommandOption struct {
	Type         ApplicationCommandOptionType     `json:"type"`
	Name         string                           `json:"name"`
	Description  string                           `json:"description"`
	Required     bool                             `json:"required,omitempty"`
	Choices      []ApplicationCommandOptionChoice `json:"choices,omitempty"`
	Options      []ApplicationCommandOption       `json:"options,omitempty"`
	Autocomplete bool                             `json:"autocomplete,omitempty"`
}

// ApplicationCommand is a registered application command.
type ApplicationCommand struct {
	ID                       string                     `json:"id,omitempty"`
	Type                     ApplicationCommandType     `json:"type,omitempty"`
	ApplicationID            string                     `json:"application_id,omitempty"`
	GuildID                  string                     `json:"guild_id,omitempty"`
	Name                     string                     `json:"name"`
	Description              string                     `json:"description"`
	Options                  []ApplicationCommandOption `json:"options,omitempty"`
	DefaultMemberPermissions *string                    `json:"default_member_permissions,omitempty"`
	Version                  string                     `json:"version,omitempty"`
}

// InteractionType is the kind of an interaction.
type InteractionType int

const (
	InteractionPing               InteractionType = 1
	InteractionApplicationCommand InteractionType = 2
	InteractionMessageComponent   InteractionType = 3
	InteractionAutocomplete       InteractionType = 4
	InteractionModalSubmit        InteractionType = 5
)

// InteractionOption is an option value sent with an application command
// interaction. Sub-commands and groups carry nested options instead of a value.
type InteractionOption struct {
	Name    string                       `json:"name"`
	Type    ApplicationCommandOptionType `json:"type"`
	Value   json.RawMessage              `json:"value,omitempty"`
	Options []InteractionOption          `json:"options,omitempty"`
	Focused bool                         `json:"focused,omitempty"`
}

// InteractionData is the payload of an application command interaction.
type InteractionData struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Type    ApplicationCommandType `json:"type"`
	Options []InteractionOption    `json:"options,omitempty"`
}

// Interaction is a user interaction with the application.
type Interaction struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	Type          InteractionType  `json:"type"`
	Data          *InteractionData `json:"data,omitempty"`
	GuildID       string           `json:"guild_id,omitempty"`
	ChannelID     string           `json:"channel_id,omitempty"`
	Member        *Member          `json:"member,omitempty"`
	User          *User            `json:"user,omitempty"`
	Token         string           `json:"token"`
	Version       int              `json:"version"`
}

// InteractionCallbackType is the kind of an interaction response.
type InteractionCallbackType int

const (
	CallbackPong                             InteractionCallbackType = 1
	CallbackChannelMessageWithSource         InteractionCallbackType = 4
	CallbackDeferredChannelMessageWithSource InteractionCallbackType = 5
	CallbackDeferredUpdateMessage            InteractionCallbackType = 6
	CallbackUpdateMessage                    InteractionCallbackType = 7
)

// Message flags usable in interaction responses.
const (
	FlagEphemeral = 1 << 6
)

// InteractionCallbackData is the message sent in response to an interaction.
type InteractionCallbackData struct {
	Content string `json:"content,omitempty"`
	TTS     bool   `json:"tts,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// InteractionResponse answers an interaction.
type InteractionResponse struct {
	Type InteractionCallbackType  `json:"type"`
	Data *InteractionCallbackData `json:"data,omitempty"`
}
