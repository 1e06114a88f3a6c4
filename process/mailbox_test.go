package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// End-to-end scenario 2 (spec.md §8): selective receive skip.
func TestMailboxScanSkipsNonMatching(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	require.NoError(t, mb.Push(TextMessage("a")))
	require.NoError(t, mb.Push(DataMessage(1)))
	require.NoError(t, mb.Push(TextMessage("b")))

	msg, ok, err := mb.Scan(Type(KindData))
	require.NoError(t, err)
	require.True(t, ok)
	data, _ := msg.Data()
	require.Equal(t, 1, data)

	first, ok := mb.Pop()
	require.True(t, ok)
	text, _ := first.Text()
	require.Equal(t, "a", text)

	second, ok := mb.Pop()
	require.True(t, ok)
	text, _ = second.Text()
	require.Equal(t, "b", text)

	_, ok = mb.Pop()
	require.False(t, ok)
}

// §8 round-trip law: push(m); scan(Any()) returns m and leaves the
// mailbox otherwise unchanged.
func TestMailboxScanAnyIdempotentOtherwise(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	require.NoError(t, mb.Push(TextMessage("only")))
	msg, ok, err := mb.Scan(Any())
	require.NoError(t, err)
	require.True(t, ok)
	text, _ := msg.Text()
	require.Equal(t, "only", text)
	require.Equal(t, 0, mb.Len())
}

// §8 boundary case: empty mailbox with timeout 0 returns none
// immediately.
func TestMailboxScanEmptyZeroTimeout(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	_, ok, err := mb.Scan(Any())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMailboxScanCustomPanicIsRecovered(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	require.NoError(t, mb.Push(TextMessage("x")))
	boom := Custom(func(Message) bool { panic("boom") })
	_, ok, err := mb.Scan(boom)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrPatternPanicked)
	// the offending message was never removed.
	require.Equal(t, 1, mb.Len())
}

func TestMailboxBoundedReject(t *testing.T) {
	mb := NewMailbox(MailboxOptions{Capacity: 1, Drop: Reject})
	require.NoError(t, mb.Push(TextMessage("a")))
	err := mb.Push(TextMessage("b"))
	require.ErrorIs(t, err, ErrMailboxFull)
}

func TestMailboxBoundedDropOldest(t *testing.T) {
	mb := NewMailbox(MailboxOptions{Capacity: 1, Drop: DropOldest})
	require.NoError(t, mb.Push(TextMessage("a")))
	require.NoError(t, mb.Push(TextMessage("b")))
	msg, ok := mb.Pop()
	require.True(t, ok)
	text, _ := msg.Text()
	require.Equal(t, "b", text)
}

func TestMailboxWaitPushWakesOnPush(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	done := make(chan bool, 1)
	go func() {
		done <- mb.waitPush(time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mb.Push(TextMessage("wake")))
	require.True(t, <-done)
}

func TestMailboxWaitPushTimesOut(t *testing.T) {
	mb := NewMailbox(MailboxOptions{})
	require.False(t, mb.waitPush(20*time.Millisecond))
}
