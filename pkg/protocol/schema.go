package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "hyperion://client-message.json"

// clientSchema describes the JSON messages a client may send.
const clientSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["chat", "speech", "ping", "pong"]},
    "ts": {"type": "integer"},
    "data": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "chat"}}},
      "then": {
        "required": ["data"],
        "properties": {"data": {
          "required": ["user", "message"],
          "properties": {
            "user": {"type": "string", "minLength": 1},
            "message": {"type": "string"},
            "preprompt": {"type": "string"},
            "model": {"type": "string"},
            "engine": {"type": "string"},
            "voice": {"type": "string"},
            "indexes": {"type": "array", "items": {"type": "string"}},
            "silent": {"type": "boolean"}
          }
        }}
      }
    },
    {
      "if": {"properties": {"type": {"const": "speech"}}},
      "then": {
        "required": ["data"],
        "properties": {"data": {
          "required": ["speaker", "speech"],
          "properties": {
            "speaker": {"type": "string", "minLength": 1},
            "speech": {"type": "string", "contentEncoding": "base64"}
          }
        }}
      }
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(clientSchema)); err != nil {
			schemaErr = fmt.Errorf("protocol: add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks a raw client message against the client schema.
func Validate(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("protocol: invalid json: %w", err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("protocol: invalid message: %w", err)
	}
	return nil
}

// ParseClientMessage validates then parses a client message.
func ParseClientMessage(raw []byte) (*Message, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return ParseMessage(raw)
}
