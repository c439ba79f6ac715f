package sequential

import "fmt"

// validatePlan rejects duplicate keys, incomplete tasks, invalid retry
// policies and unresolvable dependencies before anything runs. Dependencies
// may only point backwards in the list or at external values, so a valid plan
// can never deadlock on itself.
func (r *Runner[T]) validatePlan(tasks []Task[T], external map[string]any) error {
	position := make(map[string]int, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		if task.Key == "" {
			return fmt.Errorf("task %d: key is required", i)
		}
		if task.Op == nil {
			return fmt.Errorf("task %q: operation is required", task.Key)
		}
		if _, ok := position[task.Key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, task.Key)
		}
		position[task.Key] = i
		if task.Retry != nil {
			merged, err := task.Retry.WithDefaults(r.defaults)
			if err != nil {
				return fmt.Errorf("task %q: %w", task.Key, err)
			}
			if err := merged.Validate(); err != nil {
				return fmt.Errorf("task %q: %w", task.Key, err)
			}
		}
	}
	for i := range tasks {
		task := &tasks[i]
		for _, dep := range task.DependsOn {
			if depPos, ok := position[dep]; ok {
				if depPos >= i {
					return fmt.Errorf("%w: task %q depends on %q", ErrForwardDependency, task.Key, dep)
				}
				continue
			}
			if _, ok := external[dep]; ok {
				continue
			}
			return fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, task.Key, dep)
		}
	}
	return nil
}

// resolveDeps builds the dependency map handed to a task. Values produced by
// earlier tasks shadow external values of the same name; tasks that failed or
// were skipped contribute nothing, leaving their name absent.
func resolveDeps[T any](
	task *Task[T],
	taskKeys map[string]struct{},
	completed map[string]resolvedValue,
	external map[string]any,
) map[string]any {
	deps := make(map[string]any, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		if value, ok := completed[dep]; ok {
			if value.success {
				deps[dep] = value.value
			}
			continue
		}
		if _, isTask := taskKeys[dep]; isTask {
			continue
		}
		if value, ok := external[dep]; ok {
			deps[dep] = value
		}
	}
	return deps
}

type resolvedValue struct {
	value   any
	success bool
}
