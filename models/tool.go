package models

// ToolDescriptor is the catalogue entry rendered into the system prompt.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
