// Package host defines the capability the core needs from an MCP host:
// announcing status to the user and asking the user a question.
package host

import "context"

// Action is the user's response kind to an elicitation.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
)

// Prompt is a question for the user. With no Choices it is a plain
// accept/decline confirmation; otherwise the user picks exactly one choice.
type Prompt struct {
	Message string
	Choices []string
}

// Response is the user's answer. Choice is set only for accepted choice prompts.
type Response struct {
	Action Action
	Choice string
}

// Accepted reports whether the user accepted the prompt.
func (r Response) Accepted() bool { return r.Action == ActionAccept }

// Host is implemented by anything that can reach the user. Implementations
// return an ELICITATION_UNAVAILABLE SecretsError when the connected client
// cannot answer prompts.
type Host interface {
	Announce(ctx context.Context, message string) error
	Elicit(ctx context.Context, p Prompt) (Response, error)
}
