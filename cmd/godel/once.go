package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/PranavPipariya/Godel/internal/session"
)

var errNoResponse = errors.New("no response from agent")

// runOnce runs a single turn for prompt. An interrupt cancels the turn.
func (a *app) runOnce(ctx context.Context, prompt string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	r := newRenderer(a.stdin, a.stdout, a.stderr)
	sess, err := session.New(ctx, a.cfg, a.deps(r.confirm))
	if err != nil {
		return err
	}
	defer a.shutdown(ctx, sess)

	if _, ok := r.turn(ctx, sess, prompt); !ok {
		return errNoResponse
	}
	return nil
}
