// Package shell runs shell commands on a pseudo-terminal for ptyshell and
// defines the message protocol used to drive them remotely.
package shell

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Message type constants for the host bridge protocol.
// These are the first byte of each websocket binary message.
const (
	MsgExecute      uint8 = 0x01 // JSON ExecuteRequest
	MsgAck          uint8 = 0x02 // JSON acknowledgment
	MsgInput        uint8 = 0x03 // One line of user input (UTF-8)
	MsgInterrupt    uint8 = 0x04 // Empty: user pressed interrupt
	MsgResize       uint8 = 0x05 // 4 bytes: rows (uint16 BE), cols (uint16 BE)
	MsgOutput       uint8 = 0x06 // Decoded output text (UTF-8)
	MsgFlush        uint8 = 0x07 // Empty: output went quiet
	MsgStdinDisplay uint8 = 0x08 // 4 bytes: delay in milliseconds (uint32 BE)
	MsgStdinUpdate  uint8 = 0x09 // 1 byte: echo enabled (0 or 1)
	MsgStdinRemove  uint8 = 0x0A // Empty: input widget no longer needed
	MsgResult       uint8 = 0x0B // JSON ExecuteResult
	MsgError        uint8 = 0x0C // JSON error message
)

// MsgTypeName returns a human-readable name for a message type.
func MsgTypeName(t uint8) string {
	switch t {
	case MsgExecute:
		return "EXECUTE"
	case MsgAck:
		return "ACK"
	case MsgInput:
		return "INPUT"
	case MsgInterrupt:
		return "INTERRUPT"
	case MsgResize:
		return "RESIZE"
	case MsgOutput:
		return "OUTPUT"
	case MsgFlush:
		return "FLUSH"
	case MsgStdinDisplay:
		return "STDIN_DISPLAY"
	case MsgStdinUpdate:
		return "STDIN_UPDATE"
	case MsgStdinRemove:
		return "STDIN_REMOVE"
	case MsgResult:
		return "RESULT"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ExecuteRequest is the first message sent by a client.
type ExecuteRequest struct {
	Command      string `json:"command"`                 // Command passed to the shell
	IgnoreErrors bool   `json:"ignore_errors,omitempty"` // Do not fail on nonzero exit
	Stdin        bool   `json:"stdin"`                   // Forward INPUT messages
	Password     string `json:"password,omitempty"`      // Authentication password
	Rows         uint16 `json:"rows,omitempty"`          // Initial terminal rows
	Cols         uint16 `json:"cols,omitempty"`          // Initial terminal columns
}

// ExecuteAck is sent in response to ExecuteRequest.
type ExecuteAck struct {
	Success bool   `json:"success"`         // Whether the command was accepted
	Error   string `json:"error,omitempty"` // Error message if success is false
}

// ExecuteResult is the last message of a successful execution.
type ExecuteResult struct {
	ReturnCode int    `json:"returncode"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"` // Set when the command failed and errors are not ignored
}

// ShellError is sent when an error occurs during the session.
type ShellError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"` // Optional error code
}

// EncodeMessage encodes a message with its type prefix.
func EncodeMessage(msgType uint8, payload []byte) []byte {
	result := make([]byte, 1+len(payload))
	result[0] = msgType
	copy(result[1:], payload)
	return result
}

// DecodeMessage decodes a message, returning the type and payload.
func DecodeMessage(data []byte) (msgType uint8, payload []byte, err error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("message too short")
	}
	return data[0], data[1:], nil
}

func encodeJSON(msgType uint8, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", MsgTypeName(msgType), err)
	}
	return EncodeMessage(msgType, payload), nil
}

func decodeJSON(msgType uint8, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", MsgTypeName(msgType), err)
	}
	return nil
}

// EncodeExecute encodes an ExecuteRequest message.
func EncodeExecute(req *ExecuteRequest) ([]byte, error) {
	return encodeJSON(MsgExecute, req)
}

// DecodeExecute decodes an ExecuteRequest from payload (without type prefix).
func DecodeExecute(payload []byte) (*ExecuteRequest, error) {
	var req ExecuteRequest
	if err := decodeJSON(MsgExecute, payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeAck encodes an ExecuteAck message.
func EncodeAck(ack *ExecuteAck) ([]byte, error) {
	return encodeJSON(MsgAck, ack)
}

// DecodeAck decodes an ExecuteAck from payload (without type prefix).
func DecodeAck(payload []byte) (*ExecuteAck, error) {
	var ack ExecuteAck
	if err := decodeJSON(MsgAck, payload, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// EncodeInput encodes one line of input.
func EncodeInput(line string) []byte {
	return EncodeMessage(MsgInput, []byte(line))
}

// EncodeInterrupt encodes an interrupt event.
func EncodeInterrupt() []byte {
	return EncodeMessage(MsgInterrupt, nil)
}

// EncodeOutput encodes decoded output text.
func EncodeOutput(text string) []byte {
	return EncodeMessage(MsgOutput, []byte(text))
}

// EncodeFlush encodes a flush marker.
func EncodeFlush() []byte {
	return EncodeMessage(MsgFlush, nil)
}

// EncodeResize encodes a terminal resize message.
func EncodeResize(rows, cols uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], rows)
	binary.BigEndian.PutUint16(payload[2:4], cols)
	return EncodeMessage(MsgResize, payload)
}

// DecodeResize decodes a terminal resize message from payload (without type prefix).
func DecodeResize(payload []byte) (rows, cols uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("resize payload too short: %d bytes", len(payload))
	}
	rows = binary.BigEndian.Uint16(payload[0:2])
	cols = binary.BigEndian.Uint16(payload[2:4])
	return rows, cols, nil
}

// EncodeStdinDisplay asks the client to show an input widget after delay.
func EncodeStdinDisplay(delay time.Duration) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(delay.Milliseconds()))
	return EncodeMessage(MsgStdinDisplay, payload)
}

// DecodeStdinDisplay decodes the widget delay from payload (without type prefix).
func DecodeStdinDisplay(payload []byte) (time.Duration, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("stdin display payload too short: %d bytes", len(payload))
	}
	return time.Duration(binary.BigEndian.Uint32(payload)) * time.Millisecond, nil
}

// EncodeStdinUpdate tells the client whether typed input is echoed.
func EncodeStdinUpdate(echo bool) []byte {
	var b byte
	if echo {
		b = 1
	}
	return EncodeMessage(MsgStdinUpdate, []byte{b})
}

// DecodeStdinUpdate decodes the echo flag from payload (without type prefix).
func DecodeStdinUpdate(payload []byte) (echo bool, err error) {
	if len(payload) < 1 {
		return false, fmt.Errorf("stdin update payload too short")
	}
	return payload[0] != 0, nil
}

// EncodeStdinRemove tells the client to remove the input widget.
func EncodeStdinRemove() []byte {
	return EncodeMessage(MsgStdinRemove, nil)
}

// EncodeResult encodes an ExecuteResult message.
func EncodeResult(res *ExecuteResult) ([]byte, error) {
	return encodeJSON(MsgResult, res)
}

// DecodeResult decodes an ExecuteResult from payload (without type prefix).
func DecodeResult(payload []byte) (*ExecuteResult, error) {
	var res ExecuteResult
	if err := decodeJSON(MsgResult, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EncodeError encodes an error message.
func EncodeError(shellErr *ShellError) ([]byte, error) {
	return encodeJSON(MsgError, shellErr)
}

// DecodeError decodes an error message from payload (without type prefix).
func DecodeError(payload []byte) (*ShellError, error) {
	var shellErr ShellError
	if err := decodeJSON(MsgError, payload, &shellErr); err != nil {
		return nil, err
	}
	return &shellErr, nil
}
