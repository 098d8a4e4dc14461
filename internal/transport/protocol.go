// Package transport implements the Transporter (C5): the length-prefixed
// TCP handoff protocol agents use to transfer the running service from
// one mesh host to another.
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Token is one of the literal ASCII status strings exchanged over the
// wire. Unlike the JSON payload, tokens are not quoted or framed as
// JSON values — they are the raw frame body.
type Token string

const (
	TokenAccepted            Token = "ACCEPTED"
	TokenOkay                Token = "OKAY"
	TokenConflict            Token = "CONFLICT"
	TokenNotFound            Token = "NOT_FOUND"
	TokenTransportError      Token = "TRANSPORT_ERROR"
	TokenInternalServerError Token = "INTERNAL_SERVER_ERROR"
	TokenLocked              Token = "LOCKED"
	TokenServiceUnavailable  Token = "SERVICE_UNAVAILABLE"
	TokenGatewayTimedOut     Token = "GATEWAY_TIMED_OUT"
)

// Kind tags a Send failure reason. These mirror the error kinds in the
// error handling design: Conflict, Locked, NotFound, Timeout, IO,
// TransportError.
type Kind string

const (
	KindNone                Kind = ""
	KindConflict            Kind = "Conflict"
	KindLocked              Kind = "Locked"
	KindNotFound            Kind = "NotFound"
	KindTimeout             Kind = "Timeout"
	KindIO                  Kind = "IO"
	KindTransportError      Kind = "TransportError"
	KindInternalServerError Kind = "InternalServerError"
)

// Payload is the single JSON document carrying the handed-off service.
// Service marshals as base64 automatically since it is a []byte.
type Payload struct {
	Counter uint64   `json:"counter"`
	Ports   []uint16 `json:"ports"`
	Service []byte   `json:"service"`
}

// frameTimeout bounds every individual framed read or write, per the
// 180s deadline applied uniformly to connect, read and write.
const frameTimeout = 180 * time.Second

// writeFrame writes a 4-byte big-endian length prefix followed by body.
func writeFrame(w io.Writer, deadline time.Time, body []byte) error {
	if d, ok := w.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if err := d.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads a 4-byte big-endian length prefix then exactly that
// many bytes.
func readFrame(r *bufio.Reader, conn interface{ SetReadDeadline(time.Time) error }, deadline time.Time) ([]byte, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: read frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return body, nil
}

func writeToken(w io.Writer, deadline time.Time, tok Token) error {
	return writeFrame(w, deadline, []byte(tok))
}

func readToken(r *bufio.Reader, conn interface{ SetReadDeadline(time.Time) error }, deadline time.Time) (Token, error) {
	body, err := readFrame(r, conn, deadline)
	if err != nil {
		return "", err
	}
	return Token(body), nil
}

func writePayload(w io.Writer, deadline time.Time, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("transport: encode payload: %w", err)
	}
	return writeFrame(w, deadline, body)
}

func readPayload(r *bufio.Reader, conn interface{ SetReadDeadline(time.Time) error }, deadline time.Time) (Payload, error) {
	body, err := readFrame(r, conn, deadline)
	if err != nil {
		return Payload{}, err
	}
	if len(body) == 0 {
		return Payload{}, fmt.Errorf("transport: empty payload")
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("transport: decode payload: %w", err)
	}
	return p, nil
}
