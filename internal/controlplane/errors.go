package controlplane

import "errors"

// Sentinel errors for status queries.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrNoProgress       = errors.New("no run in progress")
)
