package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/telemetry"
)

var operationSymbols = map[engine.OperationType]string{
	engine.OperationNoop:    " ",
	engine.OperationCreate:  "+",
	engine.OperationUpdate:  "~",
	engine.OperationDelete:  "-",
	engine.OperationReplace: "-/+",
}

var changeSymbols = map[engine.ChangeAction]string{
	engine.ChangeActionAdd:    "+",
	engine.ChangeActionModify: "~",
	engine.ChangeActionRemove: "-",
}

// renderPlan prints the mutating units of plan and its summary line.
func renderPlan(w io.Writer, plan *engine.Plan) {
	fmt.Fprintf(w, "Environment %s (%s, %s, %s)\n\n",
		plan.Environment.Name, plan.Environment.Provider, plan.Environment.Tier, plan.Environment.Region)

	for _, u := range plan.Units {
		if !u.Operation.IsMutating() {
			continue
		}
		fmt.Fprintf(w, "%3s %s (%s/%s) will be %s\n", operationSymbols[u.Operation], u.ID, u.Kind, u.Provider, pastTense(u.Operation))
		for _, c := range u.Changes {
			line := fmt.Sprintf("      %s %s: %s -> %s", changeSymbols[c.Action], c.Path, formatValue(c.Before), formatValue(c.After))
			if c.ForcesReplacement {
				line += " (forces replacement)"
			}
			fmt.Fprintln(w, line)
		}
	}

	s := plan.Summary
	if !plan.HasChanges() {
		fmt.Fprintf(w, "No changes. %d resource(s) up to date.\n", s.NoChange)
		return
	}
	fmt.Fprintf(w, "\nPlan: %d to create, %d to update, %d to replace, %d to delete, %d unchanged.\n",
		s.Create, s.Update, s.Replace, s.Delete, s.NoChange)
}

func pastTense(op engine.OperationType) string {
	switch op {
	case engine.OperationCreate:
		return "created"
	case engine.OperationUpdate:
		return "updated in place"
	case engine.OperationDelete:
		return "deleted"
	case engine.OperationReplace:
		return "replaced"
	}
	return "left unchanged"
}

func formatValue(v interface{}) string {
	if v == nil {
		return "(none)"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// renderRun prints the per-unit outcome of a finished run.
func renderRun(w io.Writer, run *engine.Run) {
	ids := make([]string, 0, len(run.Results))
	for id := range run.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "\nRun %s finished: %s\n", run.ID, run.Status)
	for _, id := range ids {
		r := run.Results[id]
		if r.Operation == engine.OperationNoop {
			continue
		}
		line := fmt.Sprintf("  %-20s %-8s %s", id, r.Operation, r.Status)
		if r.Attempts > 1 {
			line += fmt.Sprintf(" after %d attempts", r.Attempts)
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	s := run.Summary
	fmt.Fprintf(w, "Applied %d, failed %d, blocked %d, cancelled %d.\n", s.Applied, s.Failed, s.Blocked, s.Cancelled)
}

// progressFilter selects the events worth a progress line.
var progressFilter = telemetry.FilterByType(
	engine.EventTypeUnitStarted,
	engine.EventTypeUnitRetrying,
	engine.EventTypeUnitCompleted,
	engine.EventTypeUnitFailed,
	engine.EventTypeUnitBlocked,
)

// progressPrinter writes one line per unit event. Workers publish
// concurrently, so writes are serialized.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) print(event engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var status string
	switch event.Type {
	case engine.EventTypeUnitStarted:
		status = "started"
	case engine.EventTypeUnitRetrying:
		status = "retrying"
	case engine.EventTypeUnitCompleted:
		status = "done"
	case engine.EventTypeUnitFailed:
		status = "FAILED"
	case engine.EventTypeUnitBlocked:
		status = "blocked"
	}
	fmt.Fprintf(p.w, "%s %s: %s: %s\n", event.Timestamp.Local().Format("15:04:05"), event.ResourceID, status, event.Message)
}

// writeJSONFile writes v as indented JSON to path.
func writeJSONFile(path string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(body, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
