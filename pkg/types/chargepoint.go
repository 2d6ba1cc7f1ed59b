package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// defaultConnectorIDs is used when the cloud payload does not enumerate the
// connectors of a charge point. Most residential units expose two.
var defaultConnectorIDs = []string{"1", "2"}

// ChargePoint represents a charge point owned by the authenticated account.
// Identity is the ID; everything else the cloud reports is kept as an opaque
// attribute set so it can be mirrored without a fixed schema.
type ChargePoint struct {
	ID         string
	Attributes map[string]any
	Connectors []Connector
}

// Connector identifies a single connector on a charge point.
type Connector struct {
	ChargePointID string
	ID            string
}

// UnmarshalJSON decodes a charge point from the arbitrary object the cloud
// API returns. The "id" field is required; a "connectors" list is decoded
// into Connectors when present and removed from the attribute set.
func (c *ChargePoint) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	id, ok := raw["id"].(string)
	if !ok || id == "" {
		return errors.New("charge point missing id")
	}
	c.ID = id

	if list, ok := raw["connectors"].([]any); ok {
		for _, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			connID := stringID(obj["connectorId"])
			if connID == "" {
				continue
			}
			c.Connectors = append(c.Connectors, Connector{
				ChargePointID: id,
				ID:            connID,
			})
		}
		delete(raw, "connectors")
	}

	c.Attributes = raw
	return nil
}

// ConnectorIDs returns the connector IDs reported by the cloud, falling back
// to the default enumeration when the payload omitted them.
func (c *ChargePoint) ConnectorIDs() []string {
	if len(c.Connectors) > 0 {
		ids := make([]string, len(c.Connectors))
		for i, conn := range c.Connectors {
			ids[i] = conn.ID
		}
		return ids
	}
	return defaultConnectorIDs
}

// stringID normalizes the connector id, which the API reports either as a
// string or as a JSON number.
func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.Itoa(int(id))
	case json.Number:
		return id.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
