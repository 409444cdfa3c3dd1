package transport

import (
	"strconv"
	"strings"
)

// ActionKind is a task action carried in a button payload.
type ActionKind string

const (
	ActionComplete ActionKind = "complete"
	ActionPostpone ActionKind = "postpone"
	ActionCancel   ActionKind = "cancel"
)

// Action is a decoded button payload.
type Action struct {
	Kind   ActionKind
	TaskID string
	Days   int
}

// Payload encodes the action as task_<kind>_<id>[_<days>].
func (a Action) Payload() string {
	p := "task_" + string(a.Kind) + "_" + a.TaskID
	if a.Kind == ActionPostpone {
		p += "_" + strconv.Itoa(a.Days)
	}
	return p
}

// ParseAction decodes a payload produced by Payload. A leading slash is
// accepted so typed commands work too.
func ParseAction(payload string) (Action, bool) {
	payload = strings.TrimPrefix(strings.TrimSpace(payload), "/")
	rest, ok := strings.CutPrefix(payload, "task_")
	if !ok {
		return Action{}, false
	}
	kind, rest, ok := strings.Cut(rest, "_")
	if !ok || rest == "" {
		return Action{}, false
	}

	switch ActionKind(kind) {
	case ActionComplete, ActionCancel:
		return Action{Kind: ActionKind(kind), TaskID: rest}, true
	case ActionPostpone:
		i := strings.LastIndexByte(rest, '_')
		if i <= 0 {
			return Action{}, false
		}
		days, err := strconv.Atoi(rest[i+1:])
		if err != nil || days < 1 || days > 365 {
			return Action{}, false
		}
		return Action{Kind: ActionPostpone, TaskID: rest[:i], Days: days}, true
	}
	return Action{}, false
}

// TaskActions is the keyboard attached to task reminders.
func TaskActions(taskID string) *Keyboard {
	return (&Keyboard{}).
		Row(
			Button{Text: "Done", Payload: Action{Kind: ActionComplete, TaskID: taskID}.Payload()},
			Button{Text: "Tomorrow", Payload: Action{Kind: ActionPostpone, TaskID: taskID, Days: 1}.Payload()},
		).
		Row(
			Button{Text: "Cancel", Payload: Action{Kind: ActionCancel, TaskID: taskID}.Payload()},
		)
}
