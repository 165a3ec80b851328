// Package workflow drives a research request from classification to a final
// answer: plan, run the tool loop, judge, optionally write a survey report.
package workflow

import (
	"strings"

	"github.com/sweetpotato0/paper-survey/message"
)

// State is a workflow phase.
type State string

const (
	Classifying      State = "classifying"
	Planning         State = "planning"
	Agenting         State = "agenting"
	Judging          State = "judging"
	ReportGenerating State = "report_generating"
	Done             State = "done"
)

// States lists every state in pipeline order.
var States = []State{Classifying, Planning, Agenting, Judging, ReportGenerating, Done}

// QueryKind is the classifier's label for a request.
type QueryKind string

const (
	KindConversational QueryKind = "conversational"
	KindSearch         QueryKind = "search"
	KindFetch          QueryKind = "fetch"
	KindAnalyze        QueryKind = "analyze"
	KindReport         QueryKind = "report"
)

// ParseQueryKind maps a classifier label to a QueryKind. Legacy labels
// ("usual", "download") are accepted; anything unknown is a search.
func ParseQueryKind(s string) QueryKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conversational", "usual", "chat":
		return KindConversational
	case "fetch", "download":
		return KindFetch
	case "analyze", "analyse", "analysis":
		return KindAnalyze
	case "report", "survey":
		return KindReport
	default:
		return KindSearch
	}
}

// Context is the slice of conversation state that routing depends on.
type Context struct {
	RequiresResearch bool
	Accepted         bool
	QueryKind        QueryKind
}

// Transition returns the state that follows s. It has no side effects.
func Transition(s State, c Context) State {
	switch s {
	case Classifying:
		if c.RequiresResearch {
			return Planning
		}
		return Done
	case Planning:
		return Agenting
	case Agenting:
		return Judging
	case Judging:
		if !c.Accepted {
			return Planning
		}
		if c.QueryKind == KindReport {
			return ReportGenerating
		}
		return Done
	default:
		return Done
	}
}

// ConversationState is the record threaded through one run. Only the engine
// mutates it; sub-procedures return a Delta instead.
type ConversationState struct {
	History          []*message.Message
	RequiresResearch bool
	QueryKind        QueryKind
	FeedbackRounds   int
	Accepted         bool
}

// NewConversationState starts a run from the user's request.
func NewConversationState(input string) *ConversationState {
	return &ConversationState{
		History: []*message.Message{message.NewMessage(message.RoleUser, input)},
	}
}

// Context returns the routing view of the state.
func (c *ConversationState) Context() Context {
	return Context{
		RequiresResearch: c.RequiresResearch,
		Accepted:         c.Accepted,
		QueryKind:        c.QueryKind,
	}
}

// Snapshot returns a copy of the history for a sub-procedure.
func (c *ConversationState) Snapshot() []*message.Message {
	return message.CloneMessages(c.History)
}

// Append adds messages to the history.
func (c *ConversationState) Append(msgs ...*message.Message) {
	for _, m := range msgs {
		if m != nil {
			c.History = append(c.History, m)
		}
	}
}

// Request returns the original user request.
func (c *ConversationState) Request() string {
	if m := message.FirstUser(c.History); m != nil {
		return m.Content
	}
	return ""
}

// Delta is what a sub-procedure hands back to be merged.
type Delta struct {
	Messages     []*message.Message
	ToolCalls    int
	ToolFailures int
}

// Merge appends the delta's messages in order.
func (c *ConversationState) Merge(d Delta) {
	c.Append(d.Messages...)
}
