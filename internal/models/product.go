package models

import (
	"encoding/json"
	"fmt"
)

// Product is a catalog entry as returned by the shopping assistant backend. It is rendered as received;
// ID is used only as a rendering key.
type Product struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	ImageURL    string   `json:"image_url"`
	Features    []string `json:"features"`
}

// ResponseType tells which of the backend's routes produced a response.
type ResponseType string

const (
	// ResponseTypeConversation is a purely conversational reply.
	ResponseTypeConversation ResponseType = "conversation"
	// ResponseTypeTextRecommendation is a reply to a text query that may carry products.
	ResponseTypeTextRecommendation ResponseType = "text_recommendation"
	// ResponseTypeImageSearch is a reply to an uploaded image.
	ResponseTypeImageSearch ResponseType = "image_search"
)

// ProductPlaceholderImage replaces a product image that fails to load.
const ProductPlaceholderImage = "https://via.placeholder.com/300x300?text=Product+Image"

// ParseResponseType converts s into a ResponseType, rejecting anything outside the closed set.
func ParseResponseType(s string) (ResponseType, error) {
	switch t := ResponseType(s); t {
	case ResponseTypeConversation, ResponseTypeTextRecommendation, ResponseTypeImageSearch:
		return t, nil
	default:
		return "", fmt.Errorf("unknown response type: %q", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ResponseType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResponseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DisplayPrice formats the price with a dollar sign and exactly two decimals.
func (p Product) DisplayPrice() string {
	return fmt.Sprintf("$%.2f", p.Price)
}

// AgentResponse is the body returned by both the chat and the image search endpoints.
type AgentResponse struct {
	Response     string       `json:"response"`
	Products     []Product    `json:"products"`
	ResponseType ResponseType `json:"response_type"`
}

// UnmarshalJSON implements json.Unmarshaler. The response text is required; a body without it is
// treated as malformed.
func (a *AgentResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Response     *string      `json:"response"`
		Products     []Product    `json:"products"`
		ResponseType ResponseType `json:"response_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Response == nil {
		return fmt.Errorf("response field is missing")
	}

	a.Response = *raw.Response
	a.Products = raw.Products
	a.ResponseType = raw.ResponseType
	return nil
}

// ChatRequest is the body sent to the chat endpoint.
type ChatRequest struct {
	Message             string    `json:"message"`
	ConversationHistory []Message `json:"conversation_history"`
}

// Catalog is the body returned by the backend's product listing.
type Catalog struct {
	Products []Product `json:"products"`
	Count    int       `json:"count"`
}
