// Package goals turns a goal plan into dated tasks: it validates the
// dependency graph, schedules steps, finds the critical path and keeps
// remaining tasks inside the goal deadline.
package goals

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperengineering/nudge/internal/validation"
)

var (
	// ErrEmptyPlan is returned for a plan without steps.
	ErrEmptyPlan = errors.New("plan has no steps")

	// ErrDuplicateKey is returned when two steps share a key.
	ErrDuplicateKey = errors.New("duplicate step key")

	// ErrUnknownDependency is returned when a step depends on a key that is
	// not part of the plan.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle is returned when the dependency graph is not acyclic.
	ErrCycle = errors.New("dependency cycle")
)

// Step is one planned unit of work before it becomes a task.
// Dependencies reference other steps by Key.
type Step struct {
	Key          string   `json:"id" validate:"required,max=64"`
	Title        string   `json:"title" validate:"required,max=500"`
	Description  string   `json:"description" validate:"max=4000"`
	DurationDays int      `json:"duration" validate:"gte=1,lte=365"`
	CanParallel  bool     `json:"can_parallel"`
	Deliverables []string `json:"deliverables,omitempty" validate:"omitempty,dive,required,max=500"`
	Resources    []string `json:"resources,omitempty" validate:"omitempty,dive,required,max=500"`
	Dependencies []string `json:"dependencies,omitempty" validate:"omitempty,dive,required"`
}

// Duration returns the step length.
func (s Step) Duration() time.Duration {
	return time.Duration(s.DurationDays) * 24 * time.Hour
}

// Slot is the scheduled window of one step.
type Slot struct {
	Key   string
	Start time.Time
	End   time.Time
}

// Validate checks field constraints and the dependency graph.
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return ErrEmptyPlan
	}

	var c validation.Collector
	for i := range steps {
		for _, fe := range validation.Struct(steps[i]) {
			fe.Field = fmt.Sprintf("steps[%d].%s", i, fe.Field)
			c.Add(&fe)
		}
	}
	if err := c.Err(); err != nil {
		return err
	}

	_, err := TopoOrder(steps)
	return err
}

// TopoOrder returns step indexes in dependency order. Among steps that
// are ready at the same time the input order is kept.
func TopoOrder(steps []Step) ([]int, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := index[s.Key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, s.Key)
		}
		index[s.Key] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		seen := make(map[string]bool, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: step %q depends on %q", ErrUnknownDependency, s.Key, dep)
			}
			if j == i {
				return nil, fmt.Errorf("%w: step %q depends on itself", ErrCycle, s.Key)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(steps))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, ErrCycle
	}
	return order, nil
}

// Schedule assigns a window to every step, starting at start.
// Sequential steps chain one after another. A parallel step starts as soon
// as its dependencies end and does not move the chain forward.
func Schedule(steps []Step, start time.Time) ([]Slot, error) {
	order, err := TopoOrder(steps)
	if err != nil {
		return nil, err
	}

	ends := make(map[string]time.Time, len(steps))
	slots := make([]Slot, len(steps))
	cursor := start

	for _, i := range order {
		s := steps[i]
		begin := start
		if !s.CanParallel {
			begin = cursor
		}
		for _, dep := range s.Dependencies {
			if end := ends[dep]; end.After(begin) {
				begin = end
			}
		}
		end := begin.Add(s.Duration())
		ends[s.Key] = end
		slots[i] = Slot{Key: s.Key, Start: begin, End: end}
		if !s.CanParallel {
			cursor = end
		}
	}
	return slots, nil
}

// CriticalPath returns the longest dependency chain by total duration and
// its length. Ties resolve to the first candidate in input order.
func CriticalPath(steps []Step) ([]string, time.Duration, error) {
	order, err := TopoOrder(steps)
	if err != nil {
		return nil, 0, err
	}

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.Key] = i
	}

	finish := make([]time.Duration, len(steps))
	prev := make([]int, len(steps))
	for _, i := range order {
		prev[i] = -1
		var best time.Duration
		for _, dep := range steps[i].Dependencies {
			j := index[dep]
			if prev[i] == -1 || finish[j] > best {
				best = finish[j]
				prev[i] = j
			}
		}
		finish[i] = best + steps[i].Duration()
	}

	last := 0
	for i := range steps {
		if finish[i] > finish[last] {
			last = i
		}
	}

	var path []string
	for i := last; i != -1; i = prev[i] {
		path = append(path, steps[i].Key)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path, finish[last], nil
}
