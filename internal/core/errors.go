package core

import "errors"

// Sentinel errors shared by the core components and the store implementation.
// Callers distinguish "user said no" (rejection) from "nobody answered in
// time" (ErrApprovalExpired) and from double responses (ErrApprovalResolved).
var (
	ErrInvalidTask       = errors.New("invalid task")
	ErrTaskNotFound      = errors.New("task not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrApprovalNotFound  = errors.New("approval request not found")
	ErrApprovalExpired   = errors.New("approval request expired")
	ErrApprovalResolved  = errors.New("approval request already resolved")
	ErrTaskRunning       = errors.New("task is already running")
)
