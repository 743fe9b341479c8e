package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/observatory/internal/hardware"
)

// continuation is work handed back to the control loop. It is dropped if
// the loop has moved to a newer epoch by the time it arrives.
type continuation struct {
	epoch uint64
	fn    func()
}

// waitSpec describes one non-blocking wait.
type waitSpec struct {
	what     string
	interval time.Duration
	timeout  time.Duration // <= 0 waits until superseded
	// guarded waits consult the safety check before every poll and park
	// when it fails.
	guarded bool
	poll    func(ctx context.Context) (bool, error)
	then    func()
	onError func(error)
}

// spawn starts w on its own goroutine, bound to the current epoch. Its
// continuations run on the control loop.
func (o *Orchestrator) spawn(w waitSpec) {
	epoch, ctx := o.epoch, o.stateCtx
	o.log.Debugf("wait_start what=%s timeout=%s", w.what, w.timeout)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		var deadline <-chan time.Time
		if w.timeout > 0 {
			timer := time.NewTimer(w.timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			if w.guarded {
				if ok, reason := o.safe(); !ok {
					o.post(ctx, epoch, func() { o.safetyPark(reason) })
					return
				}
			}
			done, err := w.poll(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				o.post(ctx, epoch, func() { w.onError(fmt.Errorf("wait for %s: %w", w.what, err)) })
				return
			}
			if done {
				o.post(ctx, epoch, w.then)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				err := fmt.Errorf("%w: %s after %s", ErrWaitTimeout, w.what, w.timeout)
				o.post(ctx, epoch, func() { w.onError(err) })
				return
			case <-ticker.C:
			}
		}
	}()
}

// post hands fn to the control loop unless ctx is cancelled first.
func (o *Orchestrator) post(ctx context.Context, epoch uint64, fn func()) {
	select {
	case o.queue <- continuation{epoch: epoch, fn: fn}:
	case <-ctx.Done():
	}
}

// waitMount polls the mount until cond holds, then runs then.
func (o *Orchestrator) waitMount(what string, timeout time.Duration, cond func(hardware.MountStatus) bool, then func()) {
	o.spawn(waitSpec{
		what:     what,
		interval: o.cfg.PollInterval,
		timeout:  timeout,
		guarded:  true,
		poll: func(ctx context.Context) (bool, error) {
			st, err := o.hw.Mount.Poll(ctx)
			if err != nil {
				return false, err
			}
			return cond(st), nil
		},
		then:    then,
		onError: o.fail,
	})
}

// waitFiles polls until every path exists, then runs then.
func (o *Orchestrator) waitFiles(what string, paths []string, timeout time.Duration, then func()) {
	o.spawn(waitSpec{
		what:     what,
		interval: o.cfg.PollInterval,
		timeout:  timeout,
		guarded:  true,
		poll: func(context.Context) (bool, error) {
			for _, p := range paths {
				if _, err := os.Stat(p); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return false, nil
					}
					return false, err
				}
			}
			return true, nil
		},
		then:    then,
		onError: o.fail,
	})
}

// waitSafe polls the safety check at the wait-safe interval and runs then
// once it passes. The first check happens one interval after the call.
func (o *Orchestrator) waitSafe(then func()) {
	first := true
	o.spawn(waitSpec{
		what:     "safe conditions",
		interval: o.cfg.WaitSafeInterval,
		poll: func(context.Context) (bool, error) {
			if first {
				first = false
				return false, nil
			}
			ok, _ := o.safe()
			return ok, nil
		},
		then:    then,
		onError: o.fail,
	})
}
