package ream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ream-rt/ream/config"
	"github.com/ream-rt/ream/process"
)

// pongActor echoes every pingEnvelope it receives (as a DataMessage)
// back to the Pid in the envelope's From field, sequence number
// unchanged (spec.md §8 scenario 1).
type pingEnvelope struct {
	From process.Pid
	Seq  int
}

type pongActor struct {
	rt *Runtime
}

func (p *pongActor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	data, ok := msg.Data()
	if !ok {
		return process.Continue, nil
	}
	env, ok := data.(pingEnvelope)
	if !ok {
		return process.Continue, nil
	}
	return process.Continue, p.rt.Send(env.From, process.DataMessage(env))
}

// pingActor records the sequence number of each reply pong echoes back
// to it, in arrival order, closing done after the 1000th. The test
// itself sends the pings to pong on pingActor's behalf.
type pingActor struct {
	rt   *Runtime
	pong process.Pid
	recv []int
	mu   sync.Mutex
	done chan struct{}
}

func (p *pingActor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	data, ok := msg.Data()
	if !ok {
		return process.Continue, nil
	}
	env, ok := data.(pingEnvelope)
	if !ok {
		return process.Continue, nil
	}
	p.mu.Lock()
	p.recv = append(p.recv, env.Seq)
	done := len(p.recv) == 1000
	p.mu.Unlock()
	if done {
		close(p.done)
	}
	return process.Continue, nil
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.Workers = 2
	cfg.Scheduler.Quantum = 5 * time.Millisecond
	cfg.Logging.Level = "error"
	rt, err := New(cfg)
	require.NoError(t, err)
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

func TestPingPongRepeatedInOrder(t *testing.T) {
	rt := newTestRuntime(t)

	pongPid, err := rt.Spawn(&pongActor{rt: rt}, process.Normal, process.NewOptions{})
	require.NoError(t, err)

	ping := &pingActor{rt: rt, pong: pongPid, done: make(chan struct{})}
	pingPid, err := rt.Spawn(ping, process.Normal, process.NewOptions{})
	require.NoError(t, err)

	for i := 1; i <= 1000; i++ {
		require.NoError(t, rt.Send(pongPid, process.DataMessage(pingEnvelope{From: pingPid, Seq: i})))
	}

	select {
	case <-ping.done:
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive all 1000 pongs in time")
	}

	ping.mu.Lock()
	defer ping.mu.Unlock()
	require.Len(t, ping.recv, 1000)
	for i, seq := range ping.recv {
		require.Equal(t, i+1, seq, "pongs must arrive in send order for one sender-receiver pair")
	}
}

func TestSelectiveReceiveSkipsToFirstMatch(t *testing.T) {
	mb := process.NewMailbox(process.MailboxOptions{})
	require.NoError(t, mb.Push(process.TextMessage("a")))
	require.NoError(t, mb.Push(process.DataMessage(1)))
	require.NoError(t, mb.Push(process.TextMessage("b")))

	msg, ok, err := mb.Scan(process.Type(process.KindData))
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
}
