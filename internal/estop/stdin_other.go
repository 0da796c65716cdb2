//go:build !linux

package estop

import (
	"io"
	"time"
)

// StdinInput is a no-op outside Linux; the signal guard still works.
type StdinInput struct{}

func NewStdinInput() (*StdinInput, error) { return &StdinInput{}, nil }

func (in *StdinInput) Poll(timeout time.Duration) (bool, error) { return false, io.EOF }

func (in *StdinInput) Close() error { return nil }
