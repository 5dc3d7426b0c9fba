package verify

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalenko/taskpilot/internal/task"
)

// Status classifies the outcome of parsing a clarification reply.
type Status string

const (
	// StatusComplete: every pending task was clarified.
	StatusComplete Status = "complete"
	// StatusPartial: some tasks were clarified, the rest still need context.
	StatusPartial Status = "partial"
	// StatusError: nothing in the reply could be understood.
	StatusError Status = "error"
)

// Result is the outcome of parsing one reply against the pending tasks.
type Result struct {
	Status       Status
	Message      string
	Updated      []task.Record
	StillPending []task.Record
}

// TaskRefiner folds a free-text answer into one vague task.
type TaskRefiner interface {
	Refine(ctx context.Context, t task.Record, answer string) (task.Record, error)
}

// Parser matches clarification replies to the tasks they answer.
type Parser struct {
	refiner TaskRefiner
}

// NewParser creates a Parser using the given refiner.
func NewParser(refiner TaskRefiner) *Parser {
	return &Parser{refiner: refiner}
}

// leadingNumber matches "1.", "2:", "task 3:" and similar task references at
// the start of a line.
var leadingNumber = regexp.MustCompile(`(?i)^(?:task\s*)?(\d+)[.:]`)

// Parse walks the reply line by line, attributing each line to a pending
// task by leading numeral, then by substring match on the task description.
// Lines that match nothing extend the answer for the task currently being
// built. When no line matches any task at all, the entire reply is offered
// to every pending task and the refiner decides per task. Tasks the refiner
// could not improve — and tasks the reply never addressed — stay pending.
func (p *Parser) Parse(ctx context.Context, reply string, pending []task.Record) Result {
	if len(pending) == 0 {
		return Result{
			Status:  StatusError,
			Message: "no pending tasks to verify",
		}
	}

	var updated, stillPending []task.Record
	answered := make(map[int]bool)

	currentTask := -1
	var currentAnswer []string

	flush := func() {
		if currentTask < 0 || len(currentAnswer) == 0 {
			return
		}
		p.resolve(ctx, pending[currentTask], strings.Join(currentAnswer, " "), &updated, &stillPending)
		answered[currentTask] = true
		currentTask = -1
		currentAnswer = nil
	}

	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := leadingNumber.FindStringSubmatch(line); m != nil {
			if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= len(pending) {
				flush()
				currentTask = idx - 1
				currentAnswer = []string{strings.TrimSpace(leadingNumber.ReplaceAllString(line, ""))}
				continue
			}
		}

		if idx := matchByDescription(line, pending); idx >= 0 {
			flush()
			currentTask = idx
			currentAnswer = []string{line}
			continue
		}

		if currentTask >= 0 {
			currentAnswer = append(currentAnswer, line)
		}
	}
	flush()

	// Nothing matched a specific task: hand the whole reply to each pending
	// task and let per-task refinement sort out what applies.
	if len(answered) == 0 {
		full := strings.Join(strings.Fields(reply), " ")
		if full != "" {
			for i := range pending {
				p.resolve(ctx, pending[i], full, &updated, &stillPending)
				answered[i] = true
			}
		}
	}

	// Tasks the reply never addressed remain pending.
	for i := range pending {
		if !answered[i] {
			stillPending = append(stillPending, pending[i])
		}
	}

	switch {
	case len(updated) > 0 && len(stillPending) == 0:
		return Result{
			Status:  StatusComplete,
			Message: "all tasks verified",
			Updated: updated,
		}
	case len(updated) > 0:
		return Result{
			Status:       StatusPartial,
			Message:      "some tasks still need verification",
			Updated:      updated,
			StillPending: stillPending,
		}
	default:
		return Result{
			Status:       StatusError,
			Message:      "could not understand updates for any task",
			StillPending: stillPending,
		}
	}
}

// resolve refines one task with its answer and buckets the outcome. A task
// counts as clarified only if refinement actually changed it.
func (p *Parser) resolve(ctx context.Context, t task.Record, answer string, updated, stillPending *[]task.Record) {
	refined, err := p.refiner.Refine(ctx, t, answer)
	if err != nil || !changed(t, refined) {
		if err != nil {
			slog.Warn("refinement failed, task stays pending", "task", t.Task, "error", err)
		}
		*stillPending = append(*stillPending, t)
		return
	}
	slog.Info("task clarified", "task", refined.Task)
	*updated = append(*updated, refined)
}

func changed(before, after task.Record) bool {
	return after.Task != before.Task ||
		after.Category != before.Category ||
		after.Status != before.Status
}

func matchByDescription(line string, pending []task.Record) int {
	lower := strings.ToLower(line)
	for i, t := range pending {
		desc := strings.ToLower(strings.TrimSpace(t.Task))
		if desc != "" && strings.Contains(lower, desc) {
			return i
		}
	}
	return -1
}
