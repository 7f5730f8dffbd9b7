// Package retry provides exponential backoff retry logic for transient
// failures.
//
// The [WithExponentialBackoff] function retries an operation with
// configurable max attempts, initial delay, and maximum delay. It is used
// for Proxmox API calls and task-status polling, where network hiccups and
// 5xx responses are expected and safe to retry.
package retry
