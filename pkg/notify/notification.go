// Package notify turns push payloads into notifications and handles
// notification clicks.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPayload is returned for a push without data.
var ErrEmptyPayload = errors.New("empty push payload")

const (
	// DefaultIcon is used as icon and badge of every notification.
	DefaultIcon = "/icon-192x192.png"

	// ActionView opens the notification URL.
	ActionView = "view"

	// ActionViewTitle is the label of the view action.
	ActionViewTitle = "Ver detalhes"
)

// Payload is the JSON body of a push message.
type Payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// ParsePayload decodes a push message.
func ParsePayload(data []byte) (Payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Payload{}, ErrEmptyPayload
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode push payload: %w", err)
	}
	return p, nil
}

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what gets displayed for a push.
type Notification struct {
	// ID is assigned by the Displayer.
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Data    string   `json:"data,omitempty"`
	Actions []Action `json:"actions"`
}

// Build creates the notification for p.
func Build(p Payload) Notification {
	return Notification{
		Title:   p.Title,
		Body:    p.Description,
		Icon:    DefaultIcon,
		Badge:   DefaultIcon,
		Data:    p.URL,
		Actions: []Action{{Action: ActionView, Title: ActionViewTitle}},
	}
}
