package service

import (
	"errors"
	"fmt"

	repository "github.com/okian/railflow/internal/adapters/repository"
)

var (
	// ErrNotStarted is returned by operations that need the store before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrNoSamples is returned when a section has no telemetry in the window.
	// It matches repository.ErrNotFound so callers can treat it as a miss.
	ErrNoSamples = fmt.Errorf("no telemetry in window: %w", repository.ErrNotFound)
)
