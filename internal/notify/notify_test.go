package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(n *Notifier) *[][]string {
	var calls [][]string
	n.run = func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}
	return &calls
}

func TestSendRelocked(t *testing.T) {
	n := NewNotifier()
	calls := capture(n)

	require.NoError(t, n.SendRelocked("Social", []string{"x.com", "reddit.com"}))
	require.Len(t, *calls, 1)
	args := (*calls)[0]
	assert.Equal(t, "notify-send", args[0])
	assert.Contains(t, args, "taskgate")
	assert.Equal(t, "Social: x.com, reddit.com", args[len(args)-1])
}

func TestSendStreakMarksBest(t *testing.T) {
	n := NewNotifier()
	calls := capture(n)

	require.NoError(t, n.SendStreak(4, 4))
	args := (*calls)[0]
	assert.Equal(t, "4 days in a row (new best)", args[len(args)-1])
	assert.Contains(t, args, "low")
}

func TestDisabledSendsNothing(t *testing.T) {
	n := NewNotifier()
	calls := capture(n)
	n.SetEnabled(false)

	require.NoError(t, n.SendSimple("a", "b"))
	assert.Empty(t, *calls)
	assert.False(t, n.IsEnabled())
}
