package api

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

// EnvelopeValidator validates inbound echo.json frames against a pre-compiled JSON schema.
type EnvelopeValidator struct {
	schema *gojsonschema.Schema
}

func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &EnvelopeValidator{schema: s}, nil
}

// Validate checks a raw frame. The error text lists every violation.
func (v *EnvelopeValidator) Validate(raw []byte) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("envelope invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}
