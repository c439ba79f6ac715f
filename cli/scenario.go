package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/invopop/jsonschema"
	"github.com/resily/resily/engine/batch"
	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
	"github.com/resily/resily/engine/sequential"
)

// -----------------------------------------------------------------------------
// Scenario format
// -----------------------------------------------------------------------------

// Modes select which executor runs the scenario tasks.
const (
	ModeBatch      = "batch"
	ModeSequential = "sequential"
)

// Scenario is the YAML description of a scripted run. Tasks simulate work
// with configurable delays and failure scripts so retry, breaker, and
// dependency behavior can be exercised end to end.
type Scenario struct {
	Name         string         `yaml:"name"           json:"name"                     jsonschema:"required,description=Scenario name used in logs and output"`
	Mode         string         `yaml:"mode"           json:"mode"                     jsonschema:"required,enum=batch,enum=sequential,description=Executor that runs the tasks"`
	Concurrency  int            `yaml:"concurrency"    json:"concurrency,omitempty"    jsonschema:"minimum=1,description=Maximum tasks in flight (batch mode)"`
	AbortOnError bool           `yaml:"abort_on_error" json:"abort_on_error,omitempty" jsonschema:"description=Mark every task as aborting the run on failure"`
	External     map[string]any `yaml:"external"       json:"external,omitempty"       jsonschema:"description=Externally provided dependency values (sequential mode)"`
	Retry        *RetrySpec     `yaml:"retry"          json:"retry,omitempty"          jsonschema:"description=Retry defaults applied to tasks without their own policy"`
	Breakers     []BreakerSpec  `yaml:"breakers"       json:"breakers,omitempty"       jsonschema:"description=Named circuit breakers tasks can reference"`
	Tasks        []TaskSpec     `yaml:"tasks"          json:"tasks"                    jsonschema:"required,description=Tasks to execute"`
}

// TaskSpec scripts one task: what it returns, how often it fails, and how it
// relates to the rest of the scenario.
type TaskSpec struct {
	Key          string         `yaml:"key"            json:"key"                      jsonschema:"required,description=Unique task key"`
	Value        any            `yaml:"value"          json:"value,omitempty"          jsonschema:"description=Value returned on success"`
	FailTimes    int            `yaml:"fail_times"     json:"fail_times,omitempty"     jsonschema:"minimum=0,description=Number of leading attempts that fail before success"`
	FailAlways   bool           `yaml:"fail_always"    json:"fail_always,omitempty"    jsonschema:"description=Fail on every attempt"`
	Delay        Duration       `yaml:"delay"          json:"delay,omitempty"          jsonschema:"description=Simulated work duration per attempt"`
	Retry        *RetrySpec     `yaml:"retry"          json:"retry,omitempty"          jsonschema:"description=Retry policy overriding the scenario defaults"`
	Breaker      string         `yaml:"breaker"        json:"breaker,omitempty"        jsonschema:"description=Name of a declared breaker guarding this task"`
	AbortOnError bool           `yaml:"abort_on_error" json:"abort_on_error,omitempty" jsonschema:"description=Abort the run when this task fails"`
	DependsOn    []string       `yaml:"depends_on"     json:"depends_on,omitempty"     jsonschema:"description=Keys of earlier tasks or external values this task reads (sequential mode)"`
	Condition    *ConditionSpec `yaml:"condition"      json:"condition,omitempty"      jsonschema:"description=Numeric gate deciding whether the task runs (sequential mode)"`
}

// RetrySpec mirrors retry.Config with human-readable durations.
type RetrySpec struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts,omitempty" jsonschema:"minimum=1,description=Total attempts including the first"`
	BaseDelay   Duration `yaml:"base_delay"   json:"base_delay,omitempty"   jsonschema:"description=Backoff before the second attempt (doubles each retry)"`
	MaxDelay    Duration `yaml:"max_delay"    json:"max_delay,omitempty"    jsonschema:"description=Upper bound for a single backoff delay"`
	Jitter      Duration `yaml:"jitter"       json:"jitter,omitempty"       jsonschema:"description=Random jitter added to each delay"`
}

// BreakerSpec declares a named circuit breaker. A spec with no overrides
// shares the process-wide breaker of that name.
type BreakerSpec struct {
	Name             string   `yaml:"name"              json:"name"                        jsonschema:"required,description=Breaker name referenced by tasks"`
	FailureThreshold int      `yaml:"failure_threshold" json:"failure_threshold,omitempty" jsonschema:"minimum=1,description=Consecutive failures that open the breaker"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"  json:"recovery_timeout,omitempty"  jsonschema:"description=Time the breaker stays open before probing"`
	MonitoringPeriod Duration `yaml:"monitoring_period" json:"monitoring_period,omitempty" jsonschema:"description=Accepted for compatibility and currently unused"`
}

// ConditionSpec gates a sequential task on a numeric dependency value. The
// task runs only when every set bound holds.
type ConditionSpec struct {
	Dependency  string   `yaml:"dependency"   json:"dependency"             jsonschema:"required,description=Dependency key whose value is compared"`
	GreaterThan *float64 `yaml:"greater_than" json:"greater_than,omitempty" jsonschema:"description=Run only when the value is greater than this"`
	LessThan    *float64 `yaml:"less_than"    json:"less_than,omitempty"    jsonschema:"description=Run only when the value is less than this"`
}

// -----------------------------------------------------------------------------
// Durations
// -----------------------------------------------------------------------------

// Duration accepts both Go syntax ("1h30m") and human phrasing ("2 minutes")
// in scenario files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := core.ParseHumanDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// JSONSchema renders durations as strings in the scenario schema.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Duration such as \"250ms\" or \"2 minutes\"",
	}
}

// -----------------------------------------------------------------------------
// Loading and validation
// -----------------------------------------------------------------------------

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	scenario := &Scenario{}
	if err := yaml.Unmarshal(data, scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}
	return scenario, nil
}

// Validate checks the structural rules the executors cannot see themselves.
// Duplicate task keys and dependency ordering are left to plan validation.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Mode != ModeBatch && s.Mode != ModeSequential {
		return fmt.Errorf("scenario mode must be %q or %q, got %q", ModeBatch, ModeSequential, s.Mode)
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("scenario %q has no tasks", s.Name)
	}
	declared := make(map[string]bool, len(s.Breakers))
	for i := range s.Breakers {
		spec := &s.Breakers[i]
		if spec.Name == "" {
			return fmt.Errorf("breaker %d: name is required", i)
		}
		if declared[spec.Name] {
			return fmt.Errorf("duplicate breaker name %q", spec.Name)
		}
		declared[spec.Name] = true
	}
	for i := range s.Tasks {
		task := &s.Tasks[i]
		if task.Key == "" {
			return fmt.Errorf("task %d: key is required", i)
		}
		if task.Breaker != "" && !declared[task.Breaker] {
			return fmt.Errorf("task %q references undeclared breaker %q", task.Key, task.Breaker)
		}
		if s.Mode == ModeBatch && (len(task.DependsOn) > 0 || task.Condition != nil) {
			return fmt.Errorf("task %q: dependencies and conditions require sequential mode", task.Key)
		}
		if task.Condition != nil && task.Condition.Dependency == "" {
			return fmt.Errorf("task %q: condition dependency is required", task.Key)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Engine conversion
// -----------------------------------------------------------------------------

// BatchTasks converts the scenario into batch executor tasks.
func (s *Scenario) BatchTasks(base *retry.Config, breakers map[string]*breaker.Breaker) ([]batch.Task[any], error) {
	tasks := make([]batch.Task[any], 0, len(s.Tasks))
	for i := range s.Tasks {
		spec := &s.Tasks[i]
		retryCfg, err := s.retryFor(spec, base)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, batch.Task[any]{
			Key:          spec.Key,
			Op:           spec.batchOp(),
			Retry:        retryCfg,
			AbortOnError: spec.AbortOnError || s.AbortOnError,
			Breaker:      breakers[spec.Breaker],
		})
	}
	return tasks, nil
}

// SequentialTasks converts the scenario into an ordered execution plan. A
// condition's dependency is added to the task's dependency list so the gate
// can see its value.
func (s *Scenario) SequentialTasks(base *retry.Config, breakers map[string]*breaker.Breaker) ([]sequential.Task[any], error) {
	tasks := make([]sequential.Task[any], 0, len(s.Tasks))
	for i := range s.Tasks {
		spec := &s.Tasks[i]
		retryCfg, err := s.retryFor(spec, base)
		if err != nil {
			return nil, err
		}
		task := sequential.Task[any]{
			Key:          spec.Key,
			Op:           spec.sequentialOp(),
			DependsOn:    slices.Clone(spec.DependsOn),
			Retry:        retryCfg,
			AbortOnError: spec.AbortOnError || s.AbortOnError,
			Breaker:      breakers[spec.Breaker],
		}
		if spec.Condition != nil {
			task.Condition = spec.Condition.predicate()
			if !slices.Contains(task.DependsOn, spec.Condition.Dependency) {
				task.DependsOn = append(task.DependsOn, spec.Condition.Dependency)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// retryFor resolves the retry policy for a task, filling unset fields from
// the scenario defaults and then from the process configuration.
func (s *Scenario) retryFor(task *TaskSpec, base *retry.Config) (*retry.Config, error) {
	cfg := task.Retry.config()
	for _, layer := range []*retry.Config{s.Retry.config(), base} {
		if layer == nil {
			continue
		}
		merged, err := cfg.WithDefaults(layer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve retry policy for task %q: %w", task.Key, err)
		}
		cfg = merged
	}
	return cfg, nil
}

func (r *RetrySpec) config() *retry.Config {
	if r == nil {
		return &retry.Config{}
	}
	return &retry.Config{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Std(),
		MaxDelay:    r.MaxDelay.Std(),
		Jitter:      r.Jitter.Std(),
	}
}

// buildBreakers constructs the named breakers, reusing the process-wide
// registry instance when a spec carries no overrides.
func buildBreakers(specs []BreakerSpec, registry *breaker.Registry) (map[string]*breaker.Breaker, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	breakers := make(map[string]*breaker.Breaker, len(specs))
	for i := range specs {
		spec := &specs[i]
		if spec.isDefault() {
			cb, err := registry.GetOrCreate(spec.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to build breaker %q: %w", spec.Name, err)
			}
			breakers[spec.Name] = cb
			continue
		}
		cb, err := breaker.New(spec.Name, spec.config())
		if err != nil {
			return nil, fmt.Errorf("failed to build breaker %q: %w", spec.Name, err)
		}
		breakers[spec.Name] = cb
	}
	return breakers, nil
}

func (b *BreakerSpec) isDefault() bool {
	return b.FailureThreshold == 0 && b.RecoveryTimeout == 0 && b.MonitoringPeriod == 0
}

func (b *BreakerSpec) config() *breaker.Config {
	return &breaker.Config{
		FailureThreshold: b.FailureThreshold,
		RecoveryTimeout:  b.RecoveryTimeout.Std(),
		MonitoringPeriod: b.MonitoringPeriod.Std(),
	}
}

// -----------------------------------------------------------------------------
// Scripted operations
// -----------------------------------------------------------------------------

// batchOp builds the scripted operation for a batch task. The attempt counter
// is shared across retries so fail_times scripts deterministic flakiness.
func (t *TaskSpec) batchOp() operation.Operation[any] {
	var attempts atomic.Int64
	return func(ctx context.Context) (any, error) {
		n := attempts.Add(1)
		if err := t.simulateWork(ctx); err != nil {
			return nil, err
		}
		if err := t.scriptedFailure(n); err != nil {
			return nil, err
		}
		return t.resultValue(n, nil), nil
	}
}

// sequentialOp builds the scripted operation for a sequential task. Resolved
// dependency values are folded into the default result payload.
func (t *TaskSpec) sequentialOp() sequential.Op[any] {
	var attempts atomic.Int64
	return func(ctx context.Context, deps map[string]any) (any, error) {
		n := attempts.Add(1)
		if err := t.simulateWork(ctx); err != nil {
			return nil, err
		}
		if err := t.scriptedFailure(n); err != nil {
			return nil, err
		}
		return t.resultValue(n, deps), nil
	}
}

func (t *TaskSpec) simulateWork(ctx context.Context) error {
	if t.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(t.Delay.Std())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *TaskSpec) scriptedFailure(attempt int64) error {
	if t.FailAlways || attempt <= int64(t.FailTimes) {
		return fmt.Errorf("task %s: scripted failure on attempt %d", t.Key, attempt)
	}
	return nil
}

func (t *TaskSpec) resultValue(attempt int64, deps map[string]any) any {
	if t.Value != nil {
		return t.Value
	}
	value := map[string]any{"task": t.Key, "attempts": attempt}
	if len(deps) > 0 {
		value["deps"] = deps
	}
	return value
}

// predicate converts the numeric gate into a condition over resolved deps. A
// missing or non-numeric dependency value fails the gate.
func (c *ConditionSpec) predicate() sequential.Condition {
	return func(deps map[string]any) bool {
		value, ok := toFloat(deps[c.Dependency])
		if !ok {
			return false
		}
		if c.GreaterThan != nil && value <= *c.GreaterThan {
			return false
		}
		if c.LessThan != nil && value >= *c.LessThan {
			return false
		}
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
