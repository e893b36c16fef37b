package models_test

import (
	"encoding/json"
	"testing"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
)

func TestProductDisplayPrice(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{price: 19.5, want: "$19.50"},
		{price: 0, want: "$0.00"},
		{price: 129.999, want: "$130.00"},
		{price: 45, want: "$45.00"},
	}

	for _, tt := range tests {
		got := models.Product{Price: tt.price}.DisplayPrice()
		if got != tt.want {
			t.Errorf("DisplayPrice(%v) = %q, want %q", tt.price, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant"} {
		if _, err := models.ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) error = %v", s, err)
		}
	}
	if _, err := models.ParseRole("system"); err == nil {
		t.Error("ParseRole(\"system\") should fail")
	}
}

func TestRoleAvatar(t *testing.T) {
	if models.RoleUser.Avatar() == models.RoleAssistant.Avatar() {
		t.Error("user and assistant avatars should differ")
	}
}

func TestAgentResponseUnmarshal(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantErr      bool
		wantProducts int
		wantType     models.ResponseType
	}{
		{
			name:         "Recommendation",
			body:         `{"response":"Here are some jackets","products":[{"id":1,"name":"Jacket","price":89.5,"features":["waterproof"]}],"response_type":"text_recommendation"}`,
			wantProducts: 1,
			wantType:     models.ResponseTypeTextRecommendation,
		},
		{
			name:     "Null products",
			body:     `{"response":"Hi","products":null,"response_type":"conversation"}`,
			wantType: models.ResponseTypeConversation,
		},
		{
			name:     "Absent products",
			body:     `{"response":"Found it","response_type":"image_search"}`,
			wantType: models.ResponseTypeImageSearch,
		},
		{
			name:    "Missing response",
			body:    `{"products":[],"response_type":"conversation"}`,
			wantErr: true,
		},
		{
			name:    "Unknown response type",
			body:    `{"response":"Hi","response_type":"upsell"}`,
			wantErr: true,
		},
		{
			name:    "Not JSON",
			body:    `<html>Bad Gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res models.AgentResponse
			err := json.Unmarshal([]byte(tt.body), &res)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(res.Products) != tt.wantProducts {
				t.Errorf("len(Products) = %d, want %d", len(res.Products), tt.wantProducts)
			}
			if res.ResponseType != tt.wantType {
				t.Errorf("ResponseType = %q, want %q", res.ResponseType, tt.wantType)
			}
		})
	}
}

func TestChatRequestMarshal(t *testing.T) {
	req := models.ChatRequest{
		Message: "find me a jacket",
		ConversationHistory: []models.Message{
			{Role: models.RoleAssistant, Content: "Hello!"},
		},
	}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"message":"find me a jacket","conversation_history":[{"role":"assistant","content":"Hello!"}]}`
	if string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}
