// Package protocol defines what travels between the server and its clients:
// the binary answer frames streamed over HTTP and websocket, and the JSON
// control messages exchanged on the websocket session.
package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Client → Server messages
	TypeChat   MessageType = "chat"   // Text request
	TypeSpeech MessageType = "speech" // Recorded utterance

	// Server → Client messages
	TypeHello     MessageType = "hello"     // Session assigned
	TypeInterrupt MessageType = "interrupt" // Stop playing anything older than the timestamp
	TypeError     MessageType = "error"     // Request rejected

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all JSON websocket messages.
// Answer frames are sent as binary websocket messages instead.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// ChatData is a text request. Optional fields override server defaults.
type ChatData struct {
	User      string   `json:"user"`
	Message   string   `json:"message"`
	Preprompt string   `json:"preprompt,omitempty"`
	Model     string   `json:"model,omitempty"`
	Engine    string   `json:"engine,omitempty"`
	Voice     string   `json:"voice,omitempty"`
	Indexes   []string `json:"indexes,omitempty"`
	Silent    bool     `json:"silent,omitempty"`
}

// SpeechData is a recorded utterance as base64 int16 little-endian PCM.
type SpeechData struct {
	Speaker   string `json:"speaker"`
	Speech    string `json:"speech"`
	Preprompt string `json:"preprompt,omitempty"`
	Model     string `json:"model,omitempty"`
}

// HelloData tells a client its session id.
type HelloData struct {
	SessionID string `json:"sid"`
	Name      string `json:"name"`
}

// InterruptData carries the barge-in time on the shared clock.
type InterruptData struct {
	Timestamp float64 `json:"timestamp"`
}

// ErrorData explains a rejected message.
type ErrorData struct {
	Message string `json:"message"`
}

// PingData is a keep-alive probe.
type PingData struct {
	ID string `json:"id"`
}

// NewInterruptMessage creates an interrupt message.
func NewInterruptMessage(ts float64) (*Message, error) {
	return NewMessage(TypeInterrupt, InterruptData{Timestamp: ts})
}

// NewHelloMessage creates a hello message.
func NewHelloMessage(sid, name string) (*Message, error) {
	return NewMessage(TypeHello, HelloData{SessionID: sid, Name: name})
}

// NewErrorMessage creates an error message.
func NewErrorMessage(msg string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: msg})
}

// NewSpeechMessage creates a speech message from samples.
func NewSpeechMessage(speaker string, samples []int16) (*Message, error) {
	return NewMessage(TypeSpeech, SpeechData{
		Speaker: speaker,
		Speech:  base64.StdEncoding.EncodeToString(PCMBytes(samples)),
	})
}

// GetChatData extracts chat data from a message.
func (m *Message) GetChatData() (*ChatData, error) {
	var data ChatData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpeechData extracts speech data from a message.
func (m *Message) GetSpeechData() (*SpeechData, error) {
	var data SpeechData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetInterruptData extracts interrupt data from a message.
func (m *Message) GetInterruptData() (*InterruptData, error) {
	var data InterruptData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetHelloData extracts hello data from a message.
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Samples decodes the base64 PCM payload.
func (s *SpeechData) Samples() ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(s.Speech)
	if err != nil {
		return nil, fmt.Errorf("protocol: speech payload: %w", err)
	}
	return PCMSamples(raw)
}

// PCMBytes serializes samples as int16 little-endian.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// PCMSamples parses int16 little-endian bytes.
func PCMSamples(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm length %d", ErrCorruptFrame, len(raw))
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out, nil
}
