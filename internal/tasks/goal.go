package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/nudge/internal/assistant"
	"github.com/hyperengineering/nudge/internal/goals"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/types"
)

// GoalCategory files every goal task.
const GoalCategory = "goals"

// GoalPlan is a freshly created goal with its tasks and milestones.
type GoalPlan struct {
	Goal       *types.Goal
	Tasks      []types.Task
	Milestones []types.Milestone
	// CriticalPath lists task titles on the longest dependency chain.
	CriticalPath   []string
	CriticalLength time.Duration
}

// CreateGoal plans a goal with the planner, schedules its steps from now
// and stores the goal, its ordered tasks and two milestones in one unit of
// work. Task order follows the dependency order of the steps.
func (s *Service) CreateGoal(ctx context.Context, userID int64, in assistant.GoalIntent) (*GoalPlan, error) {
	if s.planner == nil {
		return nil, ErrPlannerUnavailable
	}
	now := s.now()

	deadline := goals.DeriveDeadline(now, in.Experience, in.AvailableTime)
	if in.Deadline != nil {
		deadline = *in.Deadline
	}

	steps, err := s.planner.Plan(ctx, assistant.PlanRequest{
		Title:         in.Title,
		Deadline:      deadline,
		Experience:    in.Experience,
		AvailableTime: in.AvailableTime,
	})
	if err != nil {
		return nil, fmt.Errorf("plan goal: %w", err)
	}
	order, err := goals.TopoOrder(steps)
	if err != nil {
		return nil, fmt.Errorf("order plan: %w", err)
	}
	slots, err := goals.Schedule(steps, now)
	if err != nil {
		return nil, fmt.Errorf("schedule plan: %w", err)
	}
	path, length, err := goals.CriticalPath(steps)
	if err != nil {
		return nil, fmt.Errorf("critical path: %w", err)
	}

	ids := make(map[string]string, len(steps))
	titles := make(map[string]string, len(steps))
	for _, st := range steps {
		ids[st.Key] = ulid.Make().String()
		titles[st.Key] = st.Title
	}

	plan := &GoalPlan{
		Goal: &types.Goal{
			UserID:        userID,
			Title:         in.Title,
			Description:   in.Description,
			Deadline:      deadline,
			Experience:    in.Experience,
			AvailableTime: in.AvailableTime,
		},
		CriticalLength: length,
	}
	for _, key := range path {
		plan.CriticalPath = append(plan.CriticalPath, titles[key])
	}

	err = s.uow.Do(ctx, func(tx *store.Tx) error {
		plan.Tasks = plan.Tasks[:0]
		plan.Milestones = plan.Milestones[:0]

		if err := tx.CreateGoal(ctx, plan.Goal); err != nil {
			return err
		}
		cat, err := tx.EnsureCategory(ctx, GoalCategory)
		if err != nil {
			return err
		}

		for pos, i := range order {
			st := steps[i]
			start := slots[i].Start
			due := slots[i].End
			if due.After(deadline) {
				due = deadline
			}
			deps := make([]string, 0, len(st.Dependencies))
			for _, key := range st.Dependencies {
				deps = append(deps, ids[key])
			}
			task := types.Task{
				ID:               ids[st.Key],
				UserID:           userID,
				Title:            st.Title,
				Description:      st.Description,
				DueDate:          due,
				StartDate:        &start,
				Priority:         types.PriorityMedium,
				CategoryID:       cat.ID,
				CategoryName:     cat.Name,
				CategoryPriority: cat.Priority,
				GoalID:           plan.Goal.ID,
				Order:            pos + 1,
				Plan: types.TaskPlan{
					Dependencies: deps,
					Deliverables: st.Deliverables,
					Resources:    st.Resources,
				},
				CanParallel: st.CanParallel,
			}
			if err := tx.CreateTask(ctx, &task); err != nil {
				return fmt.Errorf("create step %q: %w", st.Key, err)
			}
			plan.Tasks = append(plan.Tasks, task)
		}

		for _, spec := range goals.Milestones(now, deadline) {
			m := types.Milestone{
				GoalID:          plan.Goal.ID,
				Title:           spec.Title,
				ExpectedDate:    spec.Date,
				SuccessCriteria: spec.Criteria,
			}
			if err := tx.CreateMilestone(ctx, &m); err != nil {
				return err
			}
			plan.Milestones = append(plan.Milestones, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}

	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		s.schedule(t, FirstReminderAt(now, t.DueDate, nil))
	}
	s.logger.Info("goal created",
		"component", "tasks",
		"action", "create_goal",
		"user_id", userID,
		"goal_id", plan.Goal.ID,
		"tasks", len(plan.Tasks),
		"deadline", deadline.Format(time.DateOnly),
	)
	return plan, nil
}

// RenderPlan formats the goal's tasks as numbered lines with due dates.
func (p *GoalPlan) RenderPlan(loc *time.Location) string {
	var b []byte
	for i, t := range p.Tasks {
		b = fmt.Appendf(b, "%d. %s (due %s)\n", i+1, t.Title, t.DueDate.In(loc).Format("02 Jan"))
	}
	if len(p.CriticalPath) > 0 {
		b = fmt.Appendf(b, "Critical path: %d days", int(p.CriticalLength.Hours()/24))
	}
	return string(b)
}
