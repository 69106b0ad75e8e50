package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// promptApprover shows the plan and waits for the operator to type yes.
type promptApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptApprover(in io.Reader, out io.Writer) *promptApprover {
	return &promptApprover{in: bufio.NewReader(in), out: out}
}

// Approve implements engine.Approver. Anything but "yes" rejects the plan.
func (a *promptApprover) Approve(ctx context.Context, plan *engine.Plan) (bool, error) {
	renderPlan(a.out, plan)
	fmt.Fprintf(a.out, "\nDo you want to %s environment %s?\n", plan.Mode, plan.Environment.Name)
	fmt.Fprint(a.out, "  Only 'yes' will be accepted to approve.\n\n  Enter a value: ")

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		answers <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		return false, ctx.Err()
	case ans := <-answers:
		if ans.err != nil && ans.err != io.EOF {
			return false, fmt.Errorf("failed to read approval: %w", ans.err)
		}
		approved := strings.TrimSpace(ans.line) == "yes"
		if !approved {
			fmt.Fprintln(a.out, "\nApply cancelled.")
		}
		return approved, nil
	}
}
