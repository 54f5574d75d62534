package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/kadirpekel/agentloom/pkg/guard"
)

// ApprovalPrompt is an interactive, terminal-only guard.InputGuard: calls
// to any tool named in Gated block on a y/n keypress (no Enter required)
// before being allowed through. When stdin isn't a terminal — a
// non-interactive run, a pipe, a CI job — it fails closed and rejects the
// call rather than hanging forever on a prompt nobody can answer.
//
// Expressed as a guard hook rather than a protocol-level pause/resume,
// since this module's execution loop has no async task-suspension concept
// to resume into.
type ApprovalPrompt struct {
	Gated map[string]bool
}

var _ guard.InputGuard = ApprovalPrompt{}

func (a ApprovalPrompt) ValidateInput(toolName string, input map[string]any) guard.InputVerdict {
	if !a.Gated[toolName] {
		return guard.InputVerdict{}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return guard.InputVerdict{Reject: true, Reason: "tool " + toolName + " requires interactive approval but stdin is not a terminal"}
	}

	fmt.Printf("\napprove call to %q? [y/n] ", toolName)
	approved, err := readKeypress()
	fmt.Println()
	if err != nil {
		return guard.InputVerdict{Reject: true, Reason: "failed to read approval keypress: " + err.Error()}
	}
	if !approved {
		return guard.InputVerdict{Reject: true, Reason: "user denied approval for " + toolName}
	}
	return guard.InputVerdict{}
}

// readKeypress puts stdin into raw mode, reads a single byte, restores the
// previous terminal state, and reports whether it was 'y' or 'Y'.
func readKeypress() (bool, error) {
	fd := int(os.Stdin.Fd())
	prevState, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer term.Restore(fd, prevState)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false, err
	}
	return buf[0] == 'y' || buf[0] == 'Y', nil
}
