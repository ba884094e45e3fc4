package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/steward/internal/risk"
)

// ConfirmRequest describes the step awaiting user approval.
type ConfirmRequest struct {
	StepDescription string
	Tool            string
	Params          map[string]any
	Risk            risk.Score
}

// Confirmer decides whether a risky step may run. Implementations
// should honor ctx; the engine applies the confirmation timeout and
// treats expiry as rejection.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// confirmWithTimeout asks the confirmer with a deadline. No answer in
// time means no.
func confirmWithTimeout(ctx context.Context, c Confirmer, req ConfirmRequest, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		ok, err := c.Confirm(ctx, req)
		ch <- answer{ok, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return false
		}
		return a.ok
	case <-ctx.Done():
		return false
	}
}

// AutoConfirmer approves or rejects everything, for non-interactive
// runs and tests.
type AutoConfirmer struct{ Approve bool }

func (a AutoConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return a.Approve, nil
}

// ReaderConfirmer prompts on w and reads y/n from r. The CLI wires it
// to the terminal.
type ReaderConfirmer struct {
	R io.Reader
	W io.Writer
}

func (rc ReaderConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	fmt.Fprintf(rc.W, "\nAbout to run %s (risk %d/%s): %s\n", req.Tool, req.Risk.Value, req.Risk.Level, req.StepDescription)
	if command, ok := req.Params["command"].(string); ok {
		fmt.Fprintf(rc.W, "  $ %s\n", command)
	}
	fmt.Fprint(rc.W, "Proceed? [y/N] ")

	line, err := bufio.NewReader(rc.R).ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
