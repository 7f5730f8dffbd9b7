package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// TaskStatus fetches the current state of a task.
func (c *RealClient) TaskStatus(ctx context.Context, node string, upid UPID) (TaskStatus, error) {
	var status TaskStatus
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", url.PathEscape(node), url.PathEscape(string(upid)))
	if err := c.getJSON(ctx, path, &status); err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}

// AwaitTask polls a task until it finishes. A run of transient polling
// failures is tolerated up to the configured limit; the counter resets on
// every successful poll. Returns a TaskError for non-OK exits and a
// TaskTimeoutError when the deadline passes.
func (c *RealClient) AwaitTask(ctx context.Context, node string, upid UPID, timeout time.Duration) error {
	if upid == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = c.timeouts.TaskWait
	}
	deadline := time.Now().Add(timeout)
	failures := 0
	for {
		status, err := c.TaskStatus(ctx, node, upid)
		switch {
		case err == nil:
			failures = 0
			if status.Finished() {
				if status.OK() {
					return nil
				}
				return &TaskError{UPID: upid, ExitStatus: status.ExitStatus}
			}
		case IsTransient(err):
			failures++
			c.log.V(1).Info("task poll failed", "upid", upid, "failures", failures, "err", err.Error())
			if failures > c.timeouts.PollMaxFailures {
				return fmt.Errorf("polling task %s: %w", upid, err)
			}
		default:
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TaskTimeoutError{UPID: upid, Timeout: timeout}
		}
		wait := c.timeouts.TaskPollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
