package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/postalsys/flingr/internal/connection"
)

// Field names inside the lookup response Item.
const (
	fieldItem      = "Item"
	fieldKey       = "Key"
	fieldTableName = "TableName"
	fieldValue     = "S"

	fieldID        = "id"
	fieldLocalPort = "lanPort"
	fieldWANPort   = "wanPort"
	fieldWANAddr   = "ipAddr"
	fieldLocalAddr = "lanAddr"
)

// ErrMalformedResponse is returned when the response is not an object with
// an Item object. Individual fields never cause this error.
var ErrMalformedResponse = errors.New("malformed lookup response")

// stringAttr is the one-key envelope the service wraps every value in.
type stringAttr struct {
	S string `json:"S"`
}

// ParseLookupResponse extracts a Connection from a lookup response body.
// Absent or mistyped fields are left at their zero value; the result may
// therefore be invalid even when err is nil.
func ParseLookupResponse(body []byte) (connection.Connection, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return connection.Connection{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw, ok := top[fieldItem]
	if !ok {
		return connection.Connection{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, fieldItem)
	}

	var item map[string]json.RawMessage
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return connection.Connection{}, fmt.Errorf("%w: %s is not an object", ErrMalformedResponse, fieldItem)
	}

	var c connection.Connection
	c.ActivationCode, _ = stringField(item, fieldID)
	c.LocalAddress, _ = stringField(item, fieldLocalAddr)
	c.WANAddress, _ = stringField(item, fieldWANAddr)
	c.LocalPort = portField(item, fieldLocalPort)
	c.WANPort = portField(item, fieldWANPort)

	return c, nil
}

// stringField unwraps {"S": "..."}; ok is false for anything else.
func stringField(item map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := item[name]
	if !ok {
		return "", false
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	v, ok := env[fieldValue]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// portField returns 0 unless the field holds a decimal port in range.
func portField(item map[string]json.RawMessage, name string) int {
	s, ok := stringField(item, name)
	if !ok {
		return 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !connection.ValidPort(p) {
		return 0
	}
	return p
}

func wrap(v string) stringAttr {
	return stringAttr{S: v}
}

// registerBody is the PUT body that publishes a host's addresses.
type registerBody struct {
	Item      map[string]stringAttr `json:"Item"`
	TableName string                `json:"TableName"`
}

// unregisterBody is the PUT body that withdraws an activation code.
type unregisterBody struct {
	Key       map[string]stringAttr `json:"Key"`
	TableName string                `json:"TableName"`
}
