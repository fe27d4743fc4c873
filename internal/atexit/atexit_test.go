package atexit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCallsEveryCallbackInOrder(t *testing.T) {
	atExit.fns = nil
	atExit.closed = 0

	var order []int
	Register(func() error { order = append(order, 1); return nil })
	Register(func() error { order = append(order, 2); return nil })

	require.NoError(t, Run())
	require.Equal(t, []int{1, 2}, order)
}

func TestRunStopsAtFirstError(t *testing.T) {
	atExit.fns = nil
	atExit.closed = 0

	boom := errors.New("boom")
	var ran bool
	Register(func() error { return boom })
	Register(func() error { ran = true; return nil })

	require.ErrorIs(t, Run(), boom)
	require.False(t, ran)
}

func TestRegisterAfterRunPanics(t *testing.T) {
	atExit.fns = nil
	atExit.closed = 0
	require.NoError(t, Run())
	require.Panics(t, func() { Register(func() error { return nil }) })
}
