package events_test

import (
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/events"
	"github.com/stretchr/testify/require"
)

func TestEvents(t *testing.T) {
	evts := events.New()

	a := evts.Acquire("a")
	require.Equal(t, a, evts.Acquire("a"))
	b := evts.Acquire("b")
	require.Equal(t, 2, evts.Len())

	evts.Send("viewer: block pushed")
	require.Equal(t, "viewer: block pushed", <-a)
	require.Equal(t, "viewer: block pushed", <-b)

	require.NoError(t, evts.Release("a"))
	require.Error(t, evts.Release("a"))
	_, open := <-a
	require.False(t, open)

	for i := 0; i < 101; i++ {
		evts.Send("x")
	}
	require.Equal(t, 1, evts.Dropped("b"))

	evts.Shutdown()
	require.Equal(t, 0, evts.Len())
}
