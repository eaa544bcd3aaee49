package kephascord

// Gateway close codes sent by the server when it terminates the streaming connection.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// CloseResumable is the close code the client uses when it drops a connection
// on purpose but wants to keep the session resumable (any code other than
// 1000/1001 keeps the session alive on the server).
const CloseResumable = 4900

// Standard error messages
const (
	// Protocol errors
	ErrInvalidFrameFormat = "invalid frame format"
	ErrUnexpectedFrame    = "unexpected frame"
	ErrPayloadTooLarge    = "payload too large"

	// Connection errors
	ErrConnectionClosed = "gateway connection is closed"
	ErrFailedToEncode   = "failed to encode frame"
	ErrFailedToDial     = "failed to dial gateway"

	// Scheduler errors
	ErrFailedToBuildRequest = "failed to build request"
	ErrFailedToReadBody     = "failed to read response body"
)

// API defaults
const (
	DefaultBaseURL    = "https://discord.com/api/v10"
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultUserAgent  = "DiscordBot (https://github.com/luciancaetano/kephascord, 0.1.0)"
)
