package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/prompt"
	"github.com/sweetpotato0/paper-survey/report"
)

var (
	classifySchema = &agent.Schema{
		Name:        "classification",
		Description: "Whether the request needs research, and what kind of request it is.",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"requires_research": map[string]any{"type": "boolean"},
				"query_kind": map[string]any{
					"type": "string",
					"enum": []string{"conversational", "search", "fetch", "analyze", "report"},
				},
				"answer": map[string]any{"type": "string"},
			},
			"required": []string{"requires_research", "query_kind"},
		},
	}
	judgeSchema = &agent.Schema{
		Name:        "judgement",
		Description: "Whether the final answer satisfies the request.",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"accepted": map[string]any{"type": "boolean"},
				"feedback": map[string]any{"type": "string"},
			},
			"required": []string{"accepted"},
		},
	}
)

type classification struct {
	RequiresResearch bool   `json:"requires_research"`
	QueryKind        string `json:"query_kind"`
	Type             string `json:"type"`
	Answer           string `json:"answer"`
}

type judgement struct {
	Accepted     bool   `json:"accepted"`
	IsGoodAnswer *bool  `json:"is_good_answer"`
	Feedback     string `json:"feedback"`
}

func (e *Engine) withSystem(name string, vars map[string]interface{}, history []*message.Message) ([]*message.Message, error) {
	system, err := e.prompts.Render(name, vars)
	if err != nil {
		return nil, err
	}
	msgs := make([]*message.Message, 0, len(history)+1)
	msgs = append(msgs, message.NewMessage(message.RoleSystem, system))
	return append(msgs, history...), nil
}

func (e *Engine) classify(ctx context.Context, cs *ConversationState, logger *slog.Logger) error {
	msgs, err := e.withSystem(prompt.Classify, nil, cs.Snapshot())
	if err != nil {
		return err
	}
	out, err := agent.Decode[classification](ctx, e.llm, msgs, classifySchema)
	if err != nil {
		return err
	}

	if !out.OK() {
		logger.Warn("classification malformed, assuming research", "error", out.Err)
		cs.RequiresResearch = true
		cs.QueryKind = KindSearch
		return nil
	}

	c := out.Value
	kind := c.QueryKind
	if kind == "" {
		kind = c.Type
	}
	cs.QueryKind = ParseQueryKind(kind)
	cs.RequiresResearch = c.RequiresResearch
	if cs.QueryKind == KindConversational && c.RequiresResearch {
		cs.QueryKind = KindSearch
	}
	logger.Info("request classified", "requires_research", cs.RequiresResearch, "query_kind", cs.QueryKind)
	if cs.RequiresResearch {
		return nil
	}

	answer := strings.TrimSpace(c.Answer)
	if answer == "" {
		resp, err := e.llm.Generate(ctx, &agent.GenerateRequest{Messages: cs.Snapshot()})
		if err != nil {
			return err
		}
		if resp != nil && resp.Message != nil {
			answer = resp.Message.Content
		}
	}
	cs.Append(message.NewMessage(message.RoleAssistant, answer))
	return nil
}

func (e *Engine) plan(ctx context.Context, cs *ConversationState) error {
	vars := map[string]interface{}{"Tools": e.tools.Describe()}
	if cs.QueryKind == KindReport {
		vars["MaxReferences"] = e.maxReferences
	}
	msgs, err := e.withSystem(prompt.Plan, vars, cs.Snapshot())
	if err != nil {
		return err
	}
	resp, err := e.llm.Generate(ctx, &agent.GenerateRequest{Messages: msgs})
	if err != nil {
		return err
	}
	if resp == nil || resp.Message == nil {
		return fmt.Errorf("planning: empty response")
	}
	plan := message.NewMessage(message.RoleAssistant, resp.Message.Content)
	plan.Metadata = map[string]interface{}{"phase": string(Planning)}
	cs.Append(plan)
	return nil
}

func (e *Engine) research(ctx context.Context, cs *ConversationState, out *Outcome, logger *slog.Logger) error {
	res, err := e.loop.Run(ctx, cs.Snapshot())
	if res != nil {
		d := Delta{Messages: res.Messages, ToolCalls: res.ToolCalls, ToolFailures: res.ToolFailures}
		cs.Merge(d)
		out.ToolCalls += d.ToolCalls
		out.ToolFailures += d.ToolFailures
	}
	if err == nil {
		return nil
	}
	if apperr.IsFatal(err) {
		return err
	}
	// The judge sees the failure and can send the run back to planning.
	logger.Warn("tool loop failed", "error", err)
	cs.Append(message.NewMessage(message.RoleAssistant, fmt.Sprintf("The research step failed: %v", err)))
	return nil
}

func (e *Engine) judge(ctx context.Context, cs *ConversationState, logger *slog.Logger) error {
	cs.FeedbackRounds++
	verdict, err := e.askJudge(ctx, cs, logger)
	if err != nil {
		return err
	}

	if cs.FeedbackRounds >= e.feedbackCeiling && !verdict.Accepted {
		logger.Info("feedback ceiling reached, accepting answer", "rounds", cs.FeedbackRounds)
		verdict.Accepted = true
	}
	cs.Accepted = verdict.Accepted
	if cs.Accepted {
		return nil
	}

	feedback := strings.TrimSpace(verdict.Feedback)
	if feedback == "" {
		feedback = "The answer does not fully address the request."
	}
	msg := message.NewMessage(message.RoleUser, "Feedback on the previous answer: "+feedback)
	msg.Metadata = map[string]interface{}{"phase": string(Judging), "round": cs.FeedbackRounds}
	cs.Append(msg)
	return nil
}

// askJudge treats an unusable verdict as acceptance. Only an
// apperr.ExecutionError is returned.
func (e *Engine) askJudge(ctx context.Context, cs *ConversationState, logger *slog.Logger) (judgement, error) {
	history := cs.Snapshot()
	review := fmt.Sprintf("Request:\n%s\n\nConversation:\n%s", cs.Request(), message.Transcript(history))
	msgs, err := e.withSystem(prompt.Judge, nil, []*message.Message{message.NewMessage(message.RoleUser, review)})
	if err != nil {
		logger.Warn("judge prompt failed, accepting answer", "error", err)
		return judgement{Accepted: true}, nil
	}
	out, err := agent.Decode[judgement](ctx, e.llm, msgs, judgeSchema)
	if err != nil {
		if apperr.IsFatal(err) {
			return judgement{}, err
		}
		logger.Warn("judge request failed, accepting answer", "error", err)
		return judgement{Accepted: true}, nil
	}
	if !out.OK() {
		logger.Warn("judgement malformed, accepting answer", "error", out.Err)
		return judgement{Accepted: true}, nil
	}
	v := out.Value
	if v.IsGoodAnswer != nil && !v.Accepted {
		v.Accepted = *v.IsGoodAnswer
	}
	return v, nil
}

func (e *Engine) writeReport(ctx context.Context, cs *ConversationState, out *Outcome, logger *slog.Logger) error {
	if e.generator == nil {
		cs.Append(message.NewMessage(message.RoleAssistant, "Report generation is not configured; the answer above is final."))
		return nil
	}
	docs := e.collectDocuments()
	if len(docs) == 0 {
		cs.Append(message.NewMessage(message.RoleAssistant, "No documents were downloaded during this run, so no report was generated."))
		return nil
	}

	rep, err := e.generator.Generate(ctx, cs.Request(), docs)
	if err != nil {
		if apperr.IsFatal(err) {
			return err
		}
		logger.Warn("report generation failed", "error", err)
		cs.Append(message.NewMessage(message.RoleAssistant, fmt.Sprintf("Report generation failed: %v", err)))
		return nil
	}
	out.Report = rep

	artifact := message.NewMessage(message.RoleAssistant, rep.Markdown)
	artifact.Metadata = map[string]interface{}{
		"phase":              string(ReportGenerating),
		"report_id":          rep.ID,
		"documents_analyzed": rep.Stats.DocumentsAnalyzed,
		"sections_failed":    rep.Stats.SectionsFailed,
	}
	if e.archive != nil {
		id, err := e.archive.Save(ctx, rep)
		if err != nil {
			logger.Warn("report archive failed", "report_id", rep.ID, "error", err)
		} else {
			out.ArchiveID = id
			artifact.Metadata["archive_id"] = id
		}
	}
	cs.Append(artifact)
	return nil
}

func (e *Engine) collectDocuments() []report.Document {
	if e.documents == nil {
		return nil
	}
	return e.documents.ReportDocuments()
}
