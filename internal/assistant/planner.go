package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/nudge/internal/goals"
)

// defaultStepDays is used when the service omits a step duration.
const defaultStepDays = 7

// PlanRequest describes the goal to plan.
type PlanRequest struct {
	Title         string
	Deadline      time.Time
	Experience    string
	AvailableTime string
}

// Planner breaks a goal into dependent steps.
type Planner struct {
	llm Completer
}

// NewPlanner creates a planner backed by llm.
func NewPlanner(llm Completer) *Planner {
	return &Planner{llm: llm}
}

const planPrompt = `Create a detailed plan to reach the goal %q by %s.
Experience level: %s
Weekly time available: %s

Return JSON only:
{"tasks": [{"id": "t1", "title": "...", "description": "...", "duration": days,
  "can_parallel": true|false, "deliverables": ["..."], "resources": ["..."],
  "dependencies": ["ids of tasks that must finish first"]}]}

Use ids t1, t2, ... in order. Dependencies must reference earlier ids.`

// Plan returns validated steps. Replies that do not form a valid plan
// return ErrMalformedResponse.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]goals.Step, error) {
	reply, err := p.llm.Complete(ctx, Prompt{
		System: "You are a professional learning path designer.",
		User: fmt.Sprintf(planPrompt, req.Title, req.Deadline.Format("2006-01-02"),
			orUnknown(req.Experience), orUnknown(req.AvailableTime)),
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, err
	}
	return decodePlan(reply)
}

func decodePlan(reply string) ([]goals.Step, error) {
	var body struct {
		Tasks []goals.Step `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	steps := body.Tasks
	byTitle := make(map[string]string, len(steps))
	for i := range steps {
		s := &steps[i]
		s.Key = strings.TrimSpace(s.Key)
		if s.Key == "" {
			s.Key = fmt.Sprintf("t%d", i+1)
		}
		if s.DurationDays == 0 {
			s.DurationDays = defaultStepDays
		}
		byTitle[strings.ToLower(strings.TrimSpace(s.Title))] = s.Key
	}

	// Some replies reference dependencies by title instead of id.
	keys := make(map[string]bool, len(steps))
	for _, s := range steps {
		keys[s.Key] = true
	}
	for i := range steps {
		for j, dep := range steps[i].Dependencies {
			if keys[dep] {
				continue
			}
			if key, ok := byTitle[strings.ToLower(strings.TrimSpace(dep))]; ok {
				steps[i].Dependencies[j] = key
			}
		}
	}

	if err := goals.Validate(steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return steps, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "not specified"
	}
	return s
}
