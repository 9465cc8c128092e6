package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tstuttard/eventsourcing/examples/mentoring"
)

var errExit = errors.New("exit")

// console reads one command per line until "exit" or end of input.
// Command errors are printed and the loop goes on.
type console struct {
	svc  *mentoring.Service
	proj *mentoring.Projection
	in   io.Reader
	out  io.Writer
}

func (c *console) run(ctx context.Context) error {
	sc := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		err := c.exec(ctx, sc.Text())
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	if args[0] == "exit" {
		return errExit
	}
	if len(args) < 2 {
		return usageError()
	}

	switch args[0] + " " + args[1] {
	case "mentors register":
		if len(args) != 4 {
			return errors.New("usage: mentors register <name> <dd-mm-yyyy>")
		}
		id, err := c.svc.RegisterMentor(ctx, args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "registered mentor %s (%s)\n", args[2], id)

	case "mentors show":
		mentors, err := c.proj.Mentors(ctx)
		if err != nil {
			return err
		}
		if len(mentors) == 0 {
			fmt.Fprintln(c.out, "no mentors registered")
		}
		for _, m := range mentors {
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", m.Name, m.DateOfBirth, m.ID)
		}

	case "class create":
		if len(args) != 4 {
			return errors.New("usage: class create <name> <size>")
		}
		size, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("class size %q is not a number", args[3])
		}
		if err := c.svc.CreateClass(ctx, args[2], size); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "created class %s for %d\n", args[2], size)

	case "class cancel":
		if len(args) != 3 {
			return errors.New("usage: class cancel <name>")
		}
		if err := c.svc.CancelClass(ctx, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "cancelled class %s\n", args[2])

	case "class show":
		if len(args) != 3 {
			return errors.New("usage: class show <name>")
		}
		v, err := c.proj.Class(ctx, args[2])
		if err != nil {
			return err
		}
		status := "open"
		if v.Cancelled {
			status = "cancelled"
		}
		fmt.Fprintf(c.out, "%s\tsize=%d\t%s\tversion=%d\n", v.Name, v.TotalSize, status, v.Version)

	default:
		return usageError()
	}
	return nil
}

func usageError() error {
	return errors.New("unknown command; try mentors register|show, class create|cancel|show, exit")
}
