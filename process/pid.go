// Package process implements the actor/process model at the core of
// REAM: process identity, mailboxes with selective receive, linking,
// monitoring, and the single-quantum executor that drives user
// behavior.
package process

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Pid is an opaque, globally unique process identity within one
// runtime instance. It is comparable and hashable so it can key maps
// and sets directly.
type Pid struct {
	id uuid.UUID
}

// NewPid mints a fresh, unique Pid. Exported so the registry and tests
// in other packages can construct one without depending on uuid
// directly.
func NewPid() Pid {
	return Pid{id: uuid.New()}
}

// IsZero reports whether p is the zero Pid (never assigned by spawn).
func (p Pid) IsZero() bool {
	return p.id == uuid.Nil
}

func (p Pid) String() string {
	if p.IsZero() {
		return "<nil>"
	}
	return fmt.Sprintf("<%s>", p.id.String())
}

// MonitorRef is a monotonically increasing ticket minted when a
// monitor is created. Ordering is not observable by users; uniqueness
// within the runtime is the only guarantee required by §3.
type MonitorRef struct {
	ticket uint64
}

var monitorTicketSeq uint64

// NewMonitorRef mints the next monitor ticket.
func NewMonitorRef() MonitorRef {
	return MonitorRef{ticket: atomic.AddUint64(&monitorTicketSeq, 1)}
}

func (r MonitorRef) String() string {
	return fmt.Sprintf("#Ref<%d>", r.ticket)
}
