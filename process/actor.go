package process

// Directive tells the executor what to do after Actor.Receive handles
// one message.
type Directive int

const (
	// Continue keeps the process running; the executor dispatches the
	// next mailbox message (or yields if the mailbox is now empty).
	Continue Directive = iota
	// Stop terminates the process normally (§3 lifecycle: exiting ->
	// exited, reason nil).
	Stop
)

// Actor is the polymorphic contract user code implements (§4 "Actor
// trait"). It is intentionally minimal — one required method — with
// lifecycle hooks offered as optional capabilities a behavior may also
// implement, following the corpus's io.Closer-style optional-interface
// idiom rather than a single fat interface every actor must fill in.
type Actor interface {
	// Receive handles one message delivered to proc. Returning a
	// non-nil error crashes the process with that error as the
	// Crashed reason (§4.2). Returning Stop as the directive exits the
	// process normally.
	Receive(proc *Process, msg Message) (Directive, error)
}

// Initializer is an optional capability: behaviors that need to run
// setup (allocate state, register timers) before the first message is
// dispatched implement it.
type Initializer interface {
	Init(proc *Process, args ...interface{}) error
}

// Terminator is an optional capability: behaviors that need cleanup on
// exit (release external resources) implement it. reason is nil for a
// normal stop.
type Terminator interface {
	Terminate(proc *Process, reason error)
}

// Restarter is an optional capability consulted by a supervisor before
// restarting a crashed child: if a behavior implements it, its
// OnRestart is called with the prior restart count instead of the
// supervisor discarding all actor state. Most actors don't implement
// this and simply get a fresh instance of user state.
type Restarter interface {
	OnRestart(proc *Process, priorRestarts uint64, reason error)
}

// VMStepResult is the result of one VM step, part of the external
// bytecode-VM boundary sketched in spec.md §6. REAM does not implement
// a VM; this is the contract the executor drives when a behavior opts
// into bytecode-step granularity instead of message-dispatch
// granularity preemption checks.
type VMStepResult int

const (
	VMCompleted VMStepResult = iota
	VMNeedsMore
	VMYielded
	VMFaulted
)

// VMStepper is implemented by an external bytecode VM. Step must
// consume at most budget instructions before returning.
type VMStepper interface {
	Step(budget int) (VMStepResult, error)
}

// BytecodeActor adapts a VMStepper into an Actor: each dispatched
// message is interpreted as "resume the VM, Budget instructions per
// Step call, until it completes, yields or faults". It still performs its
// should-yield check between Step calls (§4.2), matching the
// contract's "interleaving the preemption-flag check between
// invocations".
type BytecodeActor struct {
	Stepper VMStepper
	// Budget is the instruction budget passed to each Step call.
	Budget int
}

func (b *BytecodeActor) Receive(proc *Process, _ Message) (Directive, error) {
	budget := b.Budget
	if budget <= 0 {
		budget = 1
	}
	for {
		if proc.ShouldYield() {
			return Continue, nil
		}
		result, err := b.Stepper.Step(budget)
		if err != nil {
			return Continue, err
		}
		switch result {
		case VMCompleted:
			return Stop, nil
		case VMFaulted:
			return Continue, errFaulted
		case VMYielded:
			return Continue, nil
		case VMNeedsMore:
			continue
		}
	}
}

var errFaulted = vmFaultError{}

type vmFaultError struct{}

func (vmFaultError) Error() string { return "process: bytecode VM faulted" }
