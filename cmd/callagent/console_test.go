package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"telehealth-server/internal/call"
)

type fakeController struct {
	snap    call.Snapshot
	audio   bool
	media   bool
	retries int
	ended   int

	// completing, when set, holds EndCall until it is closed or the
	// context expires.
	completing chan struct{}
}

func (f *fakeController) Snapshot() call.Snapshot { return f.snap }

func (f *fakeController) ToggleAudio() (bool, error) {
	if !f.media {
		return false, call.ErrNoLocalMedia
	}
	f.audio = !f.audio
	return f.audio, nil
}

func (f *fakeController) ToggleVideo() (bool, error) { return true, nil }

func (f *fakeController) Retry() error {
	f.retries++
	return call.ErrRetryUnavailable
}

func (f *fakeController) EndCall(ctx context.Context) error {
	f.ended++
	if f.completing == nil {
		return nil
	}
	select {
	case <-f.completing:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestConsoleCommands(t *testing.T) {
	var out bytes.Buffer
	ctl := &fakeController{}
	con := &console{ctl: ctl, out: &out, hangupTimeout: time.Second}

	assert.False(t, con.handle("a"))
	assert.Contains(t, out.String(), "no microphone to toggle yet")

	ctl.media = true
	out.Reset()
	assert.False(t, con.handle(" A "))
	assert.Equal(t, "microphone on\n", out.String())

	out.Reset()
	assert.False(t, con.handle("r"))
	assert.Contains(t, out.String(), "cannot retry now")
	assert.Equal(t, 1, ctl.retries)

	out.Reset()
	assert.False(t, con.handle("help"))
	assert.Equal(t, usage+"\n", out.String())

	assert.True(t, con.handle("q"))
	assert.Equal(t, 1, ctl.ended)
}

func TestShowWaitsForCompletionWhenCallEnds(t *testing.T) {
	var out bytes.Buffer
	ctl := &fakeController{completing: make(chan struct{})}
	con := &console{ctl: ctl, out: &out, hangupTimeout: time.Second}

	assert.False(t, con.show(call.Snapshot{Status: call.StatusConnected}))
	assert.Zero(t, ctl.ended)

	// The remote side hung up; the completion write finishes shortly after.
	time.AfterFunc(20*time.Millisecond, func() { close(ctl.completing) })
	start := time.Now()
	assert.True(t, con.show(call.Snapshot{Status: call.StatusEnded}))
	assert.Equal(t, 1, ctl.ended)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Contains(t, out.String(), "call ended")
	assert.NotContains(t, out.String(), "did not finish")

	assert.True(t, con.show(call.Snapshot{
		Status: call.StatusError,
		Err:    &call.Error{Kind: call.ErrUnauthorized, Msg: "You are not authorized to join this call"},
	}))
	assert.Equal(t, 1, ctl.ended)
}

func TestShowGivesUpOnSlowCompletion(t *testing.T) {
	var out bytes.Buffer
	ctl := &fakeController{completing: make(chan struct{})}
	con := &console{ctl: ctl, out: &out, hangupTimeout: 10 * time.Millisecond}

	assert.True(t, con.show(call.Snapshot{Status: call.StatusEnded}))
	assert.Contains(t, out.String(), "hang up did not finish: context deadline exceeded")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "[connected] as patient (calling) mic on, camera off", describe(call.Snapshot{
		Status: call.StatusConnected, Role: call.RolePatient, Initiator: true, AudioEnabled: true,
	}))

	got := describe(call.Snapshot{
		Status:          call.StatusError,
		Err:             &call.Error{Kind: call.ErrMedia, Msg: "Failed to access camera and microphone"},
		RecoveryOffered: true,
	})
	assert.True(t, strings.HasPrefix(got, "[error] Failed to access camera"))
	assert.Contains(t, got, "press r to retry")
}

func TestReadLines(t *testing.T) {
	var got []string
	for l := range readLines(strings.NewReader("a\nq\n")) {
		got = append(got, l)
	}
	assert.Equal(t, []string{"a", "q"}, got)
}
