package backend

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Capabilities describes what a backend can do beyond plain completion.
type Capabilities struct {
	Streaming bool
	Tools     bool
	Vision    bool
}

// Image is an inline image attached to a user message.
type Image struct {
	MIMEType string
	Data     []byte
}

// ToolSpec advertises a host tool to the model. Parameters is a JSON schema
// object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn of a prompt.
type Message struct {
	Role    string
	Content string
	Images  []Image

	// Set on assistant turns that requested tools.
	ToolCalls []ToolCall

	// Set on tool result turns.
	ToolCallID string
	ToolName   string
}

// Options tunes a single request.
type Options struct {
	// Model overrides the backend's configured model when non-empty.
	Model       string
	Temperature *float64
}

// Request is a provider-neutral completion request.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
	Options  Options
}

// Response is the result of Complete. When ToolCalls is non-empty the model
// is asking for tool results before it answers.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Prompt builds a request from an optional system instruction and a user
// message.
func Prompt(system, user string) Request {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	return Request{Messages: msgs}
}

func hasImages(msgs []Message) bool {
	for _, m := range msgs {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}
