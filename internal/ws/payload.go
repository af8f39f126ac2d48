package ws

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New()

// decodePayload converts a DISPATCH frame's data into a typed command
// payload and checks its required fields. The frame was decoded into
// interface{} by the read pump, so this is a marshal round-trip.
func decodePayload(data interface{}, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if err := payloadValidator.Struct(dst); err != nil {
		return fmt.Errorf("validating payload: %w", err)
	}
	return nil
}
