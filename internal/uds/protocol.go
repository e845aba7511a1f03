// Package uds implements the Unix Domain Socket control protocol between the
// bellman CLI and the daemon. Frames are length-prefixed JSON.
package uds

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside the data directory.
const DefaultSocketName = "bellmand.sock"

// frameHeaderLen is the big-endian uint32 length prefix.
const frameHeaderLen = 4

// maxFrameBytes bounds a single frame; anything larger is rejected before
// allocation.
const maxFrameBytes = 10 * 1024 * 1024

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Op              string          `json:"op"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownOp        = "UNKNOWN_OP"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

func NewRequest(op string, params any) (*Request, error) {
	req := &Request{ProtocolVersion: ProtocolVersion, Op: op}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, _ := json.Marshal(data)
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{Success: false, Error: &ErrorDetail{Code: code, Message: message}}
}

// WriteFrame sends v as one frame: header and JSON payload in a single
// buffer, so the kernel sees one write per frame.
func WriteFrame(conn net.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderLen:], payload)

	for len(frame) > 0 {
		n, err := conn.Write(frame)
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		frame = frame[n:]
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(conn net.Conn, v any) error {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
