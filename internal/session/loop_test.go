package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_FIFO(t *testing.T) {
	l := NewLoop(false, nil)
	var order []int
	for i := range 5 {
		require.True(t, l.Post(func(context.Context) error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, 5, l.Drain(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, l.Len())
}

func TestLoop_TaskMayPostFollowUp(t *testing.T) {
	l := NewLoop(false, nil)
	var order []string
	l.Post(func(context.Context) error {
		order = append(order, "first")
		l.Post(func(context.Context) error {
			order = append(order, "follow-up")
			return nil
		})
		return nil
	})
	l.Post(func(context.Context) error {
		order = append(order, "second")
		return nil
	})
	assert.Equal(t, 3, l.Drain(context.Background()))
	assert.Equal(t, []string{"first", "second", "follow-up"}, order)
}

func TestLoop_FailureDoesNotStopLoop(t *testing.T) {
	l := NewLoop(false, nil)
	ran := false
	l.Post(func(context.Context) error { return errors.New("boom") })
	l.Post(func(context.Context) error {
		ran = true
		return nil
	})
	l.Drain(context.Background())
	assert.True(t, ran)
}

func TestLoop_CrashIsRecovered(t *testing.T) {
	l := NewLoop(true, nil)
	var crashes []*CrashError
	l.OnCrash(func(c *CrashError) { crashes = append(crashes, c) })

	ran := false
	l.Post(func(context.Context) error { panic("nil map") })
	l.Post(func(context.Context) error {
		ran = true
		return nil
	})
	l.Drain(context.Background())

	require.Len(t, crashes, 1)
	assert.Equal(t, "nil map", crashes[0].Value)
	assert.NotEmpty(t, crashes[0].Stack)
	assert.True(t, ran)
}

func TestLoop_RunStopsAfterDrain(t *testing.T) {
	l := NewLoop(false, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	processed := make(chan struct{})
	l.Post(func(context.Context) error {
		close(processed)
		return nil
	})
	<-processed
	l.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, l.Post(func(context.Context) error { return nil }))
}

func TestLoop_RunReturnsOnCancel(t *testing.T) {
	l := NewLoop(false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name      string
		dev       bool
		fn        func() error
		wantCrash bool
		wantMsg   string
	}{
		{
			name:    "plain error passes through",
			fn:      func() error { return errors.New("remote down") },
			wantMsg: "remote down",
		},
		{
			name:      "production hides panic value",
			fn:        func() error { panic("index out of range") },
			wantCrash: true,
			wantMsg:   ReloadHint,
		},
		{
			name:      "development shows panic value",
			dev:       true,
			fn:        func() error { panic("index out of range") },
			wantCrash: true,
			wantMsg:   ReloadHint + " (panic: index out of range)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Recover(tt.dev, tt.fn)
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())

			crash, ok := AsCrash(err)
			assert.Equal(t, tt.wantCrash, ok)
			if ok {
				assert.Equal(t, tt.dev, len(crash.Stack) > 0)
			}
		})
	}

	assert.NoError(t, Recover(false, func() error { return nil }))
}
