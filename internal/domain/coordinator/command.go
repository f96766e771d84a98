package coordinator

import "github.com/autodrive/autodrive/internal/domain/history"

// CommandKind discriminates the external-driver command queue.
type CommandKind string

const (
	CmdUpdateConversation CommandKind = "update_conversation"
	CmdHandleUserPrompt   CommandKind = "handle_user_prompt"
	CmdAckDecision        CommandKind = "ack_decision"
	CmdStop               CommandKind = "stop"
)

// Command is one entry on the coordinator's single command queue. Only
// the fields relevant to Kind are populated, the same flat sum-type
// idiom used throughout this codebase (history.ResponseItem,
// modelclient.Event).
type Command struct {
	Kind CommandKind

	// UpdateConversation: the worker finished its prompt; this is the
	// transcript to adopt as the new history.
	Transcript history.History

	// HandleUserPrompt: the user typed into the UI mid-run.
	UserConversation history.History

	// AckDecision: the UI has finished consuming decision Seq.
	Seq uint64
}
