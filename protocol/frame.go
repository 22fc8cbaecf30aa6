package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeChat      = "chat"
)

var errInvalidRoomID = errors.New("invalid roomId")

// Frame is an inbound client frame. Fields are kept raw: a non-string type is
// just an unknown type, roomId accepts several encodings and message must be
// forwarded byte for byte.
type Frame struct {
	Type    json.RawMessage `json:"type"`
	RoomID  json.RawMessage `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

// DecodeFrame parses data as a UTF-8 JSON object. Anything else is reported
// as domain.ErrMalformedFrame by the caller.
func DecodeFrame(data []byte) (Frame, error) {
	if !utf8.Valid(data) {
		return Frame{}, errors.New("frame is not valid UTF-8")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, errors.New("frame is not a JSON object")
	}
	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Kind returns the frame's type, or "" when type is absent or not a string.
func (f Frame) Kind() string {
	var kind string
	if err := json.Unmarshal(f.Type, &kind); err != nil {
		return ""
	}
	return kind
}

// ParseRoomID accepts a JSON integer or a string holding an integer.
func ParseRoomID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errInvalidRoomID
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %v", errInvalidRoomID, err)
		}
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidRoomID, text)
	}
	return id, nil
}

// hasMessage reports whether a chat frame carried a usable message field.
func hasMessage(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// EncodeEnvelope builds the outbound chat envelope around message without
// re-encoding it, so peers see the publisher's bytes unchanged.
func EncodeEnvelope(roomID int64, message json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.Grow(len(message) + 48)
	buf.WriteString(`{"type":"chat","roomId":`)
	buf.WriteString(strconv.FormatInt(roomID, 10))
	buf.WriteString(`,"message":`)
	buf.Write(message)
	buf.WriteByte('}')
	return buf.Bytes()
}
