// Package wire implements the one-message signal protocol spoken between the
// phone and the desktop: the phone writes a single newline-terminated JSON
// object and closes the connection.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tetherctl/internal/model"
)

// MaxMessageSize bounds how much ReadMessage accepts from one connection.
const MaxMessageSize = 256

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("wire: decode signal reading")

// DecodeError describes why a payload is not a valid signal reading.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Reason, e.Err)
	}
	return "wire: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

type message struct {
	Quality int    `json:"quality"`
	Type    string `json:"type"`
}

type incoming struct {
	Quality *int    `json:"quality"`
	Type    *string `json:"type"`
}

// Encode returns the wire form of r, including the trailing newline.
func Encode(r model.SignalReading) ([]byte, error) {
	if !r.Quality.Valid() {
		return nil, fmt.Errorf("wire: quality %d out of range", int(r.Quality))
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("wire: unknown signal type %q", string(r.Type))
	}
	data, err := json.Marshal(message{Quality: int(r.Quality), Type: string(r.Type)})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses exactly one message. Surrounding whitespace is ignored.
func Decode(data []byte) (model.SignalReading, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.SignalReading{}, &DecodeError{Reason: "empty message"}
	}

	var in incoming
	if err := json.Unmarshal(data, &in); err != nil {
		return model.SignalReading{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if in.Quality == nil {
		return model.SignalReading{}, &DecodeError{Reason: "missing field quality"}
	}
	if in.Type == nil {
		return model.SignalReading{}, &DecodeError{Reason: "missing field type"}
	}

	quality := model.SignalQuality(*in.Quality)
	if !quality.Valid() {
		return model.SignalReading{}, &DecodeError{Reason: fmt.Sprintf("quality %d out of range", *in.Quality)}
	}
	signalType, ok := model.ParseSignalType(*in.Type)
	if !ok {
		return model.SignalReading{}, &DecodeError{Reason: fmt.Sprintf("unknown signal type %q", *in.Type)}
	}
	return model.SignalReading{Quality: quality, Type: signalType}, nil
}

// ReadMessage reads until EOF and decodes the result. Payloads larger than
// MaxMessageSize are rejected without being parsed.
func ReadMessage(r io.Reader) (model.SignalReading, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxMessageSize+1))
	if err != nil {
		return model.SignalReading{}, err
	}
	if len(data) > MaxMessageSize {
		return model.SignalReading{}, &DecodeError{Reason: fmt.Sprintf("message exceeds %d bytes", MaxMessageSize)}
	}
	return Decode(data)
}
