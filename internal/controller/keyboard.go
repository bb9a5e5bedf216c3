// Package controller maps single keystrokes on the operator's terminal to
// session commands.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/AaronLay10/soundstage/internal/session"
)

// Operator drives the session. session.Runner implements it.
type Operator interface {
	Start(ctx context.Context, sceneID string) error
	Step(ctx context.Context) error
	Status(ctx context.Context) (session.Status, error)
}

// Command is what a key asks for.
type Command int

const (
	CmdNone Command = iota
	CmdStep
	CmdStart
	CmdStatus
	CmdQuit
)

const ctrlC = 3

// Lookup maps a key to its command.
func Lookup(key byte) Command {
	switch key {
	case ' ', 'n', '\r':
		return CmdStep
	case 's':
		return CmdStart
	case '?':
		return CmdStatus
	case 'q', ctrlC:
		return CmdQuit
	default:
		return CmdNone
	}
}

// Keyboard reads keys from in and reports to out. When in is a terminal
// it is switched to raw mode for the duration of Run.
type Keyboard struct {
	in         io.Reader
	out        io.Writer
	op         Operator
	startScene string
}

func NewKeyboard(in io.Reader, out io.Writer, op Operator, startScene string) *Keyboard {
	return &Keyboard{in: in, out: out, op: op, startScene: startScene}
}

// Run handles keys until q, ctx is done, or input ends.
func (k *Keyboard) Run(ctx context.Context) error {
	if f, ok := k.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	fmt.Fprint(k.out, "soundstage\r\n")
	fmt.Fprint(k.out, "Controls:\tspace/n=step\ts=start\t?=status\tq=quit\r\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := k.in.Read(buf); err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case key := <-keys:
			if k.handle(ctx, Lookup(key)) {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the controller should quit.
func (k *Keyboard) handle(ctx context.Context, cmd Command) bool {
	var err error
	switch cmd {
	case CmdQuit:
		return true
	case CmdStep:
		err = k.op.Step(ctx)
	case CmdStart:
		if k.startScene == "" {
			fmt.Fprint(k.out, "no start scene configured\r\n")
			return false
		}
		err = k.op.Start(ctx, k.startScene)
	case CmdStatus:
	default:
		return false
	}

	if err != nil {
		fmt.Fprintf(k.out, "error: %v\r\n", err)
		return false
	}
	k.printStatus(ctx)
	return false
}

func (k *Keyboard) printStatus(ctx context.Context) {
	st, err := k.op.Status(ctx)
	if err != nil {
		fmt.Fprintf(k.out, "error: %v\r\n", err)
		return
	}
	if st.State != "active" {
		fmt.Fprint(k.out, "idle\r\n")
		return
	}
	fmt.Fprintf(k.out, "%s #%d %s\r\n", st.SceneID, st.Index, st.ObjectID)
}
