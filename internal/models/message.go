package models

import (
	"encoding/json"
	"fmt"
)

// Message represents an individual entry within a conversation. Messages are appended in the order they
// are produced and never modified afterwards, so the slice order is also the display order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed or uploaded by the shopper.
	RoleUser Role = "user"
	// RoleAssistant represents a reply from the shopping assistant, including the fallback replies
	// produced when the backend cannot be reached.
	RoleAssistant Role = "assistant"
)

// ParseRole converts s into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Avatar returns the glyph shown next to a message of this role.
func (r Role) Avatar() string {
	switch r {
	case RoleUser:
		return "👤"
	case RoleAssistant:
		return "🤖"
	}
	return ""
}

// ImagePlaceholder is the content of the user message recorded for an image search.
func ImagePlaceholder(filename string) string {
	return fmt.Sprintf("[Image: %s]", filename)
}

// Image is a file picked by the shopper for an image search. Data holds the whole file since the search
// outlives the upload request.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}
