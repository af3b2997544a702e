package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"telehealth-server/internal/call"
)

const usage = "commands: a=toggle audio  v=toggle video  s=status  r=retry  q=hang up"

// controller is the part of call.Manager the console drives.
type controller interface {
	Snapshot() call.Snapshot
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	Retry() error
	EndCall(ctx context.Context) error
}

type console struct {
	ctl           controller
	out           io.Writer
	hangupTimeout time.Duration
}

// handle runs one command line and reports whether the agent should exit.
func (c *console) handle(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return false
	case "a":
		on, err := c.ctl.ToggleAudio()
		c.toggled("microphone", on, err)
	case "v":
		on, err := c.ctl.ToggleVideo()
		c.toggled("camera", on, err)
	case "s":
		fmt.Fprintln(c.out, describe(c.ctl.Snapshot()))
	case "r":
		if err := c.ctl.Retry(); err != nil {
			fmt.Fprintln(c.out, "cannot retry now:", err)
		}
	case "q":
		c.hangUp()
		return true
	default:
		fmt.Fprintln(c.out, usage)
	}
	return false
}

// show prints snap and reports whether the agent should exit. When the call
// has ended it waits, up to the hang-up timeout, for the appointment
// completion write the session started.
func (c *console) show(snap call.Snapshot) bool {
	fmt.Fprintln(c.out, describe(snap))
	switch {
	case snap.Status == call.StatusEnded:
		c.hangUp()
		return true
	case snap.Status == call.StatusError && snap.Err != nil && snap.Err.Terminal():
		return true
	}
	return false
}

// hangUp ends the call and waits for its teardown. On a call that already
// ended it only waits.
func (c *console) hangUp() {
	ctx, cancel := context.WithTimeout(context.Background(), c.hangupTimeout)
	defer cancel()
	if err := c.ctl.EndCall(ctx); err != nil {
		fmt.Fprintln(c.out, "hang up did not finish:", err)
	}
}

func (c *console) toggled(device string, on bool, err error) {
	if errors.Is(err, call.ErrNoLocalMedia) {
		fmt.Fprintf(c.out, "no %s to toggle yet\n", device)
		return
	}
	if err != nil {
		fmt.Fprintln(c.out, "toggle failed:", err)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", device, onOff(on))
}

// describe renders a snapshot as one status line.
func describe(s call.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", s.Status)
	if s.Role != call.RoleNone {
		fmt.Fprintf(&b, " as %s", s.Role)
		if s.Initiator {
			b.WriteString(" (calling)")
		}
	}
	switch s.Status {
	case call.StatusConnecting:
		b.WriteString(" waiting for the other participant")
	case call.StatusConnected:
		fmt.Fprintf(&b, " mic %s, camera %s", onOff(s.AudioEnabled), onOff(s.VideoEnabled))
	case call.StatusEnded:
		b.WriteString(" call ended")
	case call.StatusError:
		if s.Err != nil {
			fmt.Fprintf(&b, " %s", s.Err.Msg)
		}
		if s.RecoveryOffered {
			b.WriteString(" (press r to retry)")
		}
	}
	return b.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// readLines sends each line of r until it ends.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
