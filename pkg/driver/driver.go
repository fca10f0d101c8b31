// Package driver serializes all state-mutating work of one vault onto a
// single goroutine. Every entry point — keeper commands, buyer orders,
// depositor flows — is submitted as a command and executed one at a
// time in arrival order, which is the concurrency model the core state
// machine is written against.
package driver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/optionvault/pkg/vault"
)

// ErrClosed is returned for commands submitted after shutdown.
var ErrClosed = errors.New("driver: closed")

// Command runs against the vault on the driver goroutine. The returned
// value is handed back to the submitter untouched.
type Command func(v *vault.Vault) (any, error)

type request struct {
	cmd   Command
	reply chan response
}

type response struct {
	value any
	err   error
}

// Driver owns a vault's command queue.
type Driver struct {
	v      *vault.Vault
	queue  chan request
	done   chan struct{}
	logger *zap.SugaredLogger
}

func New(v *vault.Vault, logger *zap.SugaredLogger) *Driver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Driver{
		v:      v,
		queue:  make(chan request, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run consumes commands until ctx is cancelled. Call it from exactly
// one goroutine.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case req := <-d.queue:
			d.execute(req)
		}
	}
}

func (d *Driver) execute(req request) {
	value, err := req.cmd(d.v)
	if err != nil {
		d.logger.Debugw("command_failed", "err", err)
	}
	req.reply <- response{value: value, err: err}
}

func (d *Driver) drain() {
	for {
		select {
		case req := <-d.queue:
			req.reply <- response{err: ErrClosed}
		default:
			return
		}
	}
}

// Submit enqueues cmd and blocks until it has run.
func (d *Driver) Submit(ctx context.Context, cmd Command) (any, error) {
	req := request{cmd: cmd, reply: make(chan response, 1)}
	select {
	case d.queue <- req:
	case <-d.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-d.done:
		return nil, ErrClosed
	}
}

// View runs a read-only function inline. Views never mutate state, so
// they bypass the queue; the vault's internal lock keeps them coherent
// against the command being executed.
func (d *Driver) View(fn func(v *vault.Vault) any) any {
	return fn(d.v)
}
