package main

import (
	"context"
	"time"

	"github.com/sweeney/lc-interface-test/internal/settings"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdReset
	cmdSettings
	cmdPIN
)

// command is an operator request executed on the control goroutine.
type command struct {
	kind     commandKind
	operator string
	pin      string
	newPIN   string
	apply    func(*settings.Settings)
	reply    chan error
}

func (d *daemon) execute(t time.Time, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		return d.start(t, cmd.operator)
	case cmdStop:
		return d.stop(t, cmd.operator)
	case cmdReset:
		return d.reset(t, cmd.operator)
	case cmdSettings:
		return d.updateSettings(t, cmd.pin, cmd.apply)
	case cmdPIN:
		return d.changePIN(t, cmd.pin, cmd.newPIN)
	}
	return nil
}

// controller implements web.Controller by handing commands to runLoop.
type controller struct {
	cmds chan<- command
}

func (c controller) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c controller) Start(ctx context.Context, operator string) error {
	return c.do(ctx, command{kind: cmdStart, operator: operator})
}

func (c controller) Stop(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdStop})
}

func (c controller) Reset(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdReset})
}

func (c controller) UpdateSettings(ctx context.Context, pin string, apply func(*settings.Settings)) error {
	return c.do(ctx, command{kind: cmdSettings, pin: pin, apply: apply})
}

func (c controller) ChangePIN(ctx context.Context, current, next string) error {
	return c.do(ctx, command{kind: cmdPIN, pin: current, newPIN: next})
}
