package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/Sasha125a/sphere-dev-network/pkg/api/client"
)

const clearScreen = "\x1b[2J\x1b[H"

type executor interface {
	Execute(ctx context.Context, projectID, command string) (apiclient.TerminalResult, error)
}

// runShell reads commands from a raw-mode terminal when stdin is one, and
// line by line otherwise.
func runShell(ctx context.Context, ex executor, projectID, prompt string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return runLines(ctx, ex, projectID, os.Stdin, os.Stdout)
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, prompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	fmt.Fprintln(t, `SphereDev terminal. Type "help" for commands, "exit" to quit.`)
	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		done, err := execute(ctx, ex, projectID, line, t)
		if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

// runLines executes one command per input line, for pipes and scripts.
func runLines(ctx context.Context, ex executor, projectID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		done, err := execute(ctx, ex, projectID, scanner.Text(), out)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

func execute(ctx context.Context, ex executor, projectID, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "exit", "quit":
		return true, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	res, err := ex.Execute(callCtx, projectID, line)
	if err != nil {
		return false, err
	}
	if res.Clear {
		fmt.Fprint(out, clearScreen)
		return false, nil
	}
	if res.Output != "" {
		fmt.Fprintln(out, res.Output)
	}
	return false, nil
}
