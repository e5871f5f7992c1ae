package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/bytebufferpool"

	"driftchat/pkg/models"
)

// Client-to-server frame types.
const (
	FrameJoin        = "join"
	FrameChat        = "chat"
	FramePrivateChat = "private_chat"
	FramePing        = "ping"
)

// Server-to-client frame types.
const (
	FrameJoinSuccess = "join_success"
	FrameError       = "error"
	FrameUserJoined  = "user_joined"
	FrameUserLeft    = "user_left"
	FramePong        = "pong"
)

// ClientFrame is the tagged union of frames a client may send. Adding a frame
// kind means adding a case to DecodeClientFrame and to the hub dispatch; both
// switches are exhaustive over this set.
type ClientFrame interface {
	frameType() string
}

type Join struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type Chat struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Body     string `json:"message"`
}

type PrivateChat struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	TargetID string `json:"target_user_id"`
	Body     string `json:"message"`
}

type Ping struct{}

func (Join) frameType() string        { return FrameJoin }
func (Chat) frameType() string        { return FrameChat }
func (PrivateChat) frameType() string { return FramePrivateChat }
func (Ping) frameType() string        { return FramePing }

// DecodeClientFrame parses one inbound frame. Unknown fields are ignored; a
// missing or unknown `type` is a hard error.
func DecodeClientFrame(b []byte) (ClientFrame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch head.Type {
	case FrameJoin:
		var f Join
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return f, nil
	case FrameChat:
		var f Chat
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return f, nil
	case FramePrivateChat:
		var f PrivateChat
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return f, nil
	case FramePing:
		return Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrMalformedEnvelope, head.Type)
	}
}

// EncodeClientFrame serializes a client frame with its `type` discriminant.
func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
	}
	switch f := f.(type) {
	case Join:
		return json.Marshal(struct {
			tagged
			Join
		}{tagged{FrameJoin}, f})
	case Chat:
		return json.Marshal(struct {
			tagged
			Chat
		}{tagged{FrameChat}, f})
	case PrivateChat:
		return json.Marshal(struct {
			tagged
			PrivateChat
		}{tagged{FramePrivateChat}, f})
	case Ping:
		return json.Marshal(tagged{FramePing})
	default:
		return nil, fmt.Errorf("%w: unknown client frame %T", ErrMalformedEnvelope, f)
	}
}

// ServerFrame is the outbound wire object. Fields absent from a frame kind
// are omitted from the JSON.
type ServerFrame struct {
	Type        string   `json:"type"`
	UserID      string   `json:"user_id,omitempty"`
	Username    string   `json:"username,omitempty"`
	TargetID    string   `json:"target_user_id,omitempty"`
	Body        string   `json:"message,omitempty"`
	OnlineUsers []string `json:"online_users,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

func isoNow(ts time.Time) string { return ts.UTC().Format(time.RFC3339Nano) }

// JoinSuccessFrame acknowledges a successful join.
func JoinSuccessFrame(msg string) ServerFrame {
	return ServerFrame{Type: FrameJoinSuccess, Body: msg}
}

// ErrorFrame carries a short human-readable error to one client.
func ErrorFrame(msg string) ServerFrame {
	return ServerFrame{Type: FrameError, Body: msg}
}

// ChatFrame relays a public message.
func ChatFrame(m models.Message) ServerFrame {
	return ServerFrame{
		Type:      FrameChat,
		UserID:    m.SenderID,
		Username:  m.SenderName,
		Body:      m.Body,
		Timestamp: isoNow(m.Timestamp),
	}
}

// PrivateChatFrame relays a private message to the target and echoes it to
// the sender.
func PrivateChatFrame(m models.Message) ServerFrame {
	return ServerFrame{
		Type:      FramePrivateChat,
		UserID:    m.SenderID,
		Username:  m.SenderName,
		TargetID:  m.TargetID,
		Body:      m.Body,
		Timestamp: isoNow(m.Timestamp),
	}
}

// UserJoinedFrame announces a join together with the updated online set.
func UserJoinedFrame(u models.User, online []string, ts time.Time) ServerFrame {
	return ServerFrame{Type: FrameUserJoined, UserID: u.ID, Username: u.DisplayName, OnlineUsers: online, Timestamp: isoNow(ts)}
}

// UserLeftFrame announces a departure together with the updated online set.
func UserLeftFrame(userID string, online []string, ts time.Time) ServerFrame {
	return ServerFrame{Type: FrameUserLeft, UserID: userID, OnlineUsers: online, Timestamp: isoNow(ts)}
}

// PongFrame answers a ping.
func PongFrame() ServerFrame { return ServerFrame{Type: FramePong} }

// EncodeFrame marshals a server frame directly into a pooled buffer so the
// write path allocates nothing per frame. Callers must release the buffer
// with bytebufferpool.Put when done.
func EncodeFrame(f ServerFrame) (*bytebufferpool.ByteBuffer, error) {
	buf := bytebufferpool.Get()
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		bytebufferpool.Put(buf)
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	// Encode appends a newline; frames stay single-line JSON
	if n := len(buf.B); n > 0 && buf.B[n-1] == '\n' {
		buf.B = buf.B[:n-1]
	}
	return buf, nil
}
