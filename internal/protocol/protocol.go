package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/kephascord"
)

const (
	maxPayloadSize = 10 * 1024 * 1024 // 10MB max inbound frame size
	maxCommandSize = 4096             // the gateway rejects larger outbound frames
)

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

// envelope is the JSON shape shared by every frame in both directions.
type envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Frame is a decoded inbound frame. The set of implementations is closed:
// *Hello, *Dispatch, *HeartbeatRequest, *HeartbeatAck, *Reconnect and *InvalidSession.
type Frame interface {
	Opcode() Opcode
	frame()
}

// Hello is the first frame the server sends on a new connection.
type Hello struct {
	HeartbeatInterval time.Duration
}

// Dispatch carries a server event.
type Dispatch struct {
	Type     string
	Sequence int64
	Data     json.RawMessage
}

// HeartbeatRequest asks the client to heartbeat immediately.
type HeartbeatRequest struct{}

// HeartbeatAck acknowledges the last heartbeat sent by the client.
type HeartbeatAck struct{}

// Reconnect asks the client to reconnect and resume.
type Reconnect struct{}

// InvalidSession reports that the session can no longer be used as is.
type InvalidSession struct {
	Resumable bool
}

func (*Hello) Opcode() Opcode            { return OpHello }
func (*Dispatch) Opcode() Opcode         { return OpDispatch }
func (*HeartbeatRequest) Opcode() Opcode { return OpHeartbeat }
func (*HeartbeatAck) Opcode() Opcode     { return OpHeartbeatAck }
func (*Reconnect) Opcode() Opcode        { return OpReconnect }
func (*InvalidSession) Opcode() Opcode   { return OpInvalidSession }

func (*Hello) frame()            {}
func (*Dispatch) frame()         {}
func (*HeartbeatRequest) frame() {}
func (*HeartbeatAck) frame()     {}
func (*Reconnect) frame()        {}
func (*InvalidSession) frame()   {}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Decode decodes an inbound frame.
func Decode(data []byte) (Frame, error) {
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%s: %d exceeds maximum %d bytes", kephascord.ErrPayloadTooLarge, len(data), maxPayloadSize)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrInvalidFrameFormat, err)
	}

	switch env.Op {
	case OpHello:
		var h helloData
		if err := json.Unmarshal(env.D, &h); err != nil {
			return nil, fmt.Errorf("%s: hello: %w", kephascord.ErrInvalidFrameFormat, err)
		}
		if h.HeartbeatInterval <= 0 {
			return nil, fmt.Errorf("%s: hello without heartbeat interval", kephascord.ErrInvalidFrameFormat)
		}
		return &Hello{HeartbeatInterval: time.Duration(h.HeartbeatInterval) * time.Millisecond}, nil
	case OpDispatch:
		if env.T == "" || env.S == nil {
			return nil, fmt.Errorf("%s: dispatch without type or sequence", kephascord.ErrInvalidFrameFormat)
		}
		return &Dispatch{Type: env.T, Sequence: *env.S, Data: env.D}, nil
	case OpHeartbeat:
		return &HeartbeatRequest{}, nil
	case OpHeartbeatAck:
		return &HeartbeatAck{}, nil
	case OpReconnect:
		return &Reconnect{}, nil
	case OpInvalidSession:
		var resumable bool
		if len(env.D) > 0 {
			if err := json.Unmarshal(env.D, &resumable); err != nil {
				return nil, fmt.Errorf("%s: invalid session: %w", kephascord.ErrInvalidFrameFormat, err)
			}
		}
		return &InvalidSession{Resumable: resumable}, nil
	default:
		return nil, fmt.Errorf("%s: opcode %d", kephascord.ErrUnexpectedFrame, env.Op)
	}
}

// EncodeFrame encodes an inbound frame the way the server sends it.
// It is the inverse of Decode and is used by test servers.
func EncodeFrame(f Frame) ([]byte, error) {
	env := envelope{Op: f.Opcode()}
	var err error

	switch v := f.(type) {
	case *Hello:
		env.D, err = json.Marshal(helloData{HeartbeatInterval: v.HeartbeatInterval.Milliseconds()})
	case *Dispatch:
		seq := v.Sequence
		env.S = &seq
		env.T = v.Type
		env.D = v.Data
		if len(env.D) == 0 {
			env.D = json.RawMessage("null")
		}
	case *InvalidSession:
		env.D, err = json.Marshal(v.Resumable)
	default:
		env.D = json.RawMessage("null")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrFailedToEncode, err)
	}
	return json.Marshal(env)
}

// Command is an outbound frame. Its JSON encoding becomes the frame's "d" field.
type Command interface {
	Opcode() Opcode
}

// Encode encodes an outbound command.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("nil command")
	}

	d, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrFailedToEncode, err)
	}

	out, err := json.Marshal(envelope{Op: cmd.Opcode(), D: d})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrFailedToEncode, err)
	}
	if len(out) > maxCommandSize {
		return nil, fmt.Errorf("%s: %d exceeds maximum %d bytes", kephascord.ErrPayloadTooLarge, len(out), maxCommandSize)
	}
	return out, nil
}

// DecodeCommand decodes an outbound frame into its opcode and raw data.
// Test servers use it to inspect what a client sent.
func DecodeCommand(data []byte) (Opcode, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("%s: %w", kephascord.ErrInvalidFrameFormat, err)
	}
	return env.Op, env.D, nil
}
