package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-shellwords"

	"github.com/bft-labs/listycity/pkg/listy"
)

// lister is the part of *listy.Listy the shell drives.
type lister interface {
	List() listy.ListState
	Selection() listy.Selection
	Select(index int) (listy.Record, error)
	Delete(ctx context.Context) error
	Add(ctx context.Context, rec listy.Record) error
	Edit(ctx context.Context, index int, name, province string) error
}

// shell executes line commands against a list.
type shell struct {
	listy lister
	out   io.Writer
}

var errQuit = errors.New("quit")

// run reads commands from in until EOF, quit, or ctx is done.
// Command errors are printed and do not end the shell.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(s.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(s.out)
			return err
		case line := <-lines:
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

// exec runs one command line. Words are split the way a POSIX shell would,
// so quoted names may contain spaces.
func (s *shell) exec(ctx context.Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "list", "ls":
		printList(s.out, s.listy.List(), s.listy.Selection())
		return nil
	case "select":
		if len(rest) != 1 {
			return errors.New("usage: select N")
		}
		index, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("row %q: %w", rest[0], err)
		}
		rec, err := s.listy.Select(index)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "selected %s\n", rec)
		return nil
	case "delete", "rm":
		if len(rest) != 0 {
			return errors.New("usage: delete")
		}
		return s.listy.Delete(ctx)
	case "add":
		if len(rest) != 2 {
			return errors.New("usage: add NAME PROVINCE")
		}
		return s.listy.Add(ctx, listy.Record{Name: rest[0], Province: rest[1]})
	case "edit":
		if len(rest) != 3 {
			return errors.New("usage: edit N NAME PROVINCE")
		}
		index, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("row %q: %w", rest[0], err)
		}
		return s.listy.Edit(ctx, index, rest[1], rest[2])
	case "help":
		fmt.Fprintln(s.out, "commands: list, select N, delete, add NAME PROVINCE, edit N NAME PROVINCE, quit")
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// printList writes one numbered row per entry. Pending rows are marked with
// a trailing asterisk and the selected row with a leading one.
func printList(w io.Writer, list listy.ListState, sel listy.Selection) {
	if list.Len() == 0 {
		fmt.Fprintln(w, "(no cities)")
		return
	}
	for i, e := range list.Entries {
		mark := " "
		if !sel.Empty() && sel.Index == i && sel.Generation == list.Generation {
			mark = "*"
		}
		pending := ""
		if e.Pending {
			pending = " *"
		}
		fmt.Fprintf(w, "%s%3d  %s%s\n", mark, i, e.Record, pending)
	}
}
