package engine

import (
	"context"
	"errors"
	"fmt"

	"chant/internal/registry"
)

func (e *Engine) runInformational(ctx context.Context, action registry.Action) {
	res := e.execWithTimeout(ctx, action)
	if res.Error != "" {
		e.log.Warn("Informational action failed.", "action_id", action.ID, "error", res.Error)
	}
	e.notify(EventUserInfo, UserInfoDisplay{
		ActionID:   action.ID,
		ResultText: res.ResultText,
		UserInfo:   res.UserInfo,
		Error:      res.Error,
	})
}

// execWithTimeout runs the action's handler under the informational ceiling.
// A handler that overruns is abandoned and reported as a timeout.
func (e *Engine) execWithTimeout(ctx context.Context, action registry.Action) registry.ExecResult {
	ctx, cancel := context.WithTimeout(ctx, e.opts.InformationalTimeout)
	defer cancel()

	type reply struct {
		res registry.ExecResult
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := action.Exec(ctx)
		ch <- reply{res: res, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return registry.ExecResult{UserInfo: []string{}, Error: r.err.Error()}
		}
		if r.res.UserInfo == nil {
			r.res.UserInfo = []string{}
		}
		return r.res
	case <-ctx.Done():
		msg := functionTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = ctx.Err().Error()
		}
		return registry.ExecResult{UserInfo: []string{}, Error: msg}
	}
}
