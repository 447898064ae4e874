package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn shown in the chat view.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Greeting is the assistant message that opens an empty conversation.
const Greeting = "Hello! I'm your AI assistant powered by RAG and Gemini. I can help answer questions using my knowledge base, fetch real-time data, or provide general assistance. How can I help you today?"

// Apology replaces the assistant reply when a send fails.
const Apology = "Sorry, I encountered an error while processing your message. Please try again."
