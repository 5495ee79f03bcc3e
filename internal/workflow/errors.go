package workflow

import "errors"

var (
	// ErrNoStartNode is returned when a matched workflow has no start node.
	ErrNoStartNode = errors.New("workflow has no start node")
	// ErrNodeNotFound is returned when the session points at a node the workflow no longer has.
	ErrNodeNotFound = errors.New("node not found in workflow")
	// ErrWorkflowNotFound is returned when the session's workflow no longer exists.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrHopLimit is returned when auto-advance exceeds the hop ceiling.
	ErrHopLimit = errors.New("auto-advance hop limit exceeded")
)
