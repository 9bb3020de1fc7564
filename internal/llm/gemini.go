package llm

import (
	"encoding/json"

	"google.golang.org/genai"
)

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiBody builds a streamGenerateContent request body. The model is part
// of the URL, not the body.
func geminiBody(req Request, maxTokens int) ([]byte, error) {
	body := geminiRequest{Contents: make([]*genai.Content, 0, len(req.Messages))}
	for _, msg := range req.Messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		body.Contents = append(body.Contents, genai.NewContentFromText(msg.Content, role))
	}
	if req.System != "" {
		body.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if n := firstPositive(req.MaxTokens, maxTokens); n > 0 {
		body.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: n}
	}
	return json.Marshal(body)
}
