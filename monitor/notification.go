package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedNotification marks notification bodies that cannot be decoded.
var ErrMalformedNotification = errors.New("monitor: malformed notification")

// Notification is the decoded content of a scene-published message.
type Notification struct {
	SceneID string
	// Item is an embedded catalog record for the scene, if the publisher
	// included one.
	Item json.RawMessage
}

// sceneKeys lists, in priority order, the message keys that carry the scene id.
var sceneKeys = []string{"landsat_product_id", "name", "sceneName", "granule"}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseNotification decodes a message body. The body is either an SNS
// envelope whose Message field holds the scene message, or the scene message
// itself.
func ParseNotification(raw []byte) (Notification, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Notification{}, fmt.Errorf("%w: empty body", ErrMalformedNotification)
	}

	var env snsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}
	if env.Message != "" {
		raw = []byte(env.Message)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Notification{}, fmt.Errorf("%w: message: %w", ErrMalformedNotification, err)
	}

	var n Notification
	for _, key := range sceneKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(value, &id); err != nil {
			return Notification{}, fmt.Errorf("%w: %s is not a string", ErrMalformedNotification, key)
		}
		if id = strings.TrimSpace(id); id != "" {
			n.SceneID = id
			break
		}
	}
	if n.SceneID == "" {
		return Notification{}, fmt.Errorf("%w: no scene identifier", ErrMalformedNotification)
	}
	if item, ok := fields["item"]; ok && !bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
		n.Item = item
	}
	return n, nil
}
