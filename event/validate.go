package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchema is the structural contract for inbound webhook bodies.
// Entity payload contents are deliberately unconstrained here; typed decoding
// happens at dispatch time.
const envelopeSchema = `{
	"type": "object",
	"required": ["type", "data", "organizationId"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"data": {"type": "object"},
		"organizationId": {"type": "string", "minLength": 1},
		"action": {"enum": ["create", "update", "delete"]},
		"updatedFrom": {"type": "object"},
		"webhookTimestamp": {"type": "number"},
		"webhookId": {"type": "string"}
	}
}`

var (
	envelopeOnce     sync.Once
	envelopeCompiled *jsonschema.Schema
	envelopeErr      error
)

// validateEnvelope checks a decoded webhook body against the envelope schema.
func validateEnvelope(doc any) error {
	envelopeOnce.Do(func() {
		envelopeCompiled, envelopeErr = compileEnvelope()
	})
	if envelopeErr != nil {
		return fmt.Errorf("compile envelope schema: %w", envelopeErr)
	}

	return envelopeCompiled.Validate(doc)
}

func compileEnvelope() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(envelopeSchema), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	const url = "triage://schema/webhook-envelope"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	return c.Compile(url)
}
