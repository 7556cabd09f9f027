package payments_http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const checkoutSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount"],
  "properties": {
    "order_id": { "type": "string" },
    "amount": { "type": "integer", "minimum": 1 },
    "customer_email": { "type": "string" }
  },
  "additionalProperties": false
}`

const callbackSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reference"],
  "properties": {
    "reference": { "type": "string", "minLength": 1 }
  }
}`

const statusUpdateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status", "actor_id"],
  "properties": {
    "status": {
      "type": "string",
      "enum": ["pending", "confirmed", "preparing", "ready", "out_for_delivery",
               "delivered", "completed", "cancelled", "refunded", "returned"]
    },
    "actor_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

var (
	checkoutLoader     = gojsonschema.NewStringLoader(checkoutSchema)
	callbackLoader     = gojsonschema.NewStringLoader(callbackSchema)
	statusUpdateLoader = gojsonschema.NewStringLoader(statusUpdateSchema)
)

func validateJSONSchema(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
