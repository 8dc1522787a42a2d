// Package router decides, per task, whether the lightweight router model
// can answer directly or the task must escalate to the specialist tier.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/dispatchcore/dispatch/internal/provider"
	"github.com/dispatchcore/dispatch/pkg/models"
)

// escalationKeywords are words that indicate heavy multi-step work the
// router model cannot resolve on its own. Matching payloads skip the
// router call entirely.
var escalationKeywords = []string{
	"implement",
	"refactor",
	"develop",
	"build",
	"migrate",
	"automate",
	"analyze",
	"debug",
	"deploy",
	"configure",
}

// escalationWordThreshold is the payload word count above which the task
// escalates without a router call. Long requests are nearly always
// specialist work.
const escalationWordThreshold = 200

// verdictInstruction is the fixed system instruction sent with every
// router-tier classification call.
const verdictInstruction = `You are a task router. Decide whether you can fully and correctly answer the request yourself, or whether it needs a more capable model.
Respond with ONLY a JSON object and no other text.
If you can answer: {"action":"answer","answer":"<your complete answer>","reason":"<short reason>"}
If it needs escalation: {"action":"escalate","reason":"<short reason>"}`

// Decision is the outcome of classifying a task.
type Decision struct {
	// HandleLocally is true when the router model produced the answer
	// itself and no specialist call is needed.
	HandleLocally bool
	// Answer is the router model's answer; set only when HandleLocally.
	Answer string
	// Rationale explains the decision for the task record.
	Rationale string
}

// verdict is the structured output expected from the router model.
type verdict struct {
	Action string `json:"action"`
	Answer string `json:"answer"`
	Reason string `json:"reason"`
}

// Policy classifies tasks with a keyword pre-pass followed by a single
// router-tier model call. The policy is escalation-biased: any failure
// to obtain a usable verdict escalates rather than guessing.
type Policy struct {
	gateway       provider.Gateway
	keywords      []string
	wordThreshold int
}

// New creates a Policy over the given gateway with default heuristics.
func New(gateway provider.Gateway) *Policy {
	return &Policy{
		gateway:       gateway,
		keywords:      append([]string{}, escalationKeywords...),
		wordThreshold: escalationWordThreshold,
	}
}

// Classify decides whether the payload is handled locally or escalated.
// It never returns an error: classification failure is absorbed into an
// escalate decision so the task still makes progress.
func (p *Policy) Classify(ctx context.Context, payload string) Decision {
	if reason, ok := p.heuristicEscalation(payload); ok {
		return Decision{HandleLocally: false, Rationale: reason}
	}

	resp, err := p.gateway.Invoke(ctx, models.TierRouter, provider.Request{
		Payload: payload,
		System:  verdictInstruction,
	})
	if err != nil {
		log.Printf("[router] classification call failed, escalating: %v", err)
		return Decision{HandleLocally: false, Rationale: "router call failed"}
	}

	v, err := parseVerdict(resp.Text)
	if err != nil {
		log.Printf("[router] unparsable verdict, escalating: %v", err)
		return Decision{HandleLocally: false, Rationale: "unparsable router verdict"}
	}

	switch v.Action {
	case "answer":
		if strings.TrimSpace(v.Answer) == "" {
			log.Printf("[router] answer verdict with empty answer, escalating")
			return Decision{HandleLocally: false, Rationale: "router answered nothing"}
		}
		return Decision{HandleLocally: true, Answer: v.Answer, Rationale: v.Reason}
	case "escalate":
		return Decision{HandleLocally: false, Rationale: v.Reason}
	default:
		log.Printf("[router] unknown verdict action %q, escalating", v.Action)
		return Decision{HandleLocally: false, Rationale: "unknown router verdict"}
	}
}

// heuristicEscalation applies the keyword and length pre-pass. It
// reports the escalation reason and whether the pre-pass fired.
func (p *Policy) heuristicEscalation(payload string) (string, bool) {
	lower := strings.ToLower(payload)

	for _, keyword := range p.keywords {
		if strings.Contains(lower, keyword) {
			return fmt.Sprintf("heavy-work keyword %q", keyword), true
		}
	}

	if words := len(strings.Fields(payload)); words > p.wordThreshold {
		return fmt.Sprintf("payload length %d words exceeds router scope", words), true
	}

	return "", false
}

// parseVerdict extracts the JSON verdict from model output, tolerating
// markdown fences and surrounding prose.
func parseVerdict(text string) (*verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}
