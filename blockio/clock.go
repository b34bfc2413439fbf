package blockio

import (
	"time"

	"github.com/vexfs/vexfs/cmn/mono"
)

// MonoClock implements Clock atop cmn/mono and the wall-clock time package —
// the default Clock a host passes to the core outside of tests.
type MonoClock struct{}

var _ Clock = MonoClock{}

func (MonoClock) NowNs() uint64  { return uint64(mono.NanoTime()) }
func (MonoClock) WallNs() uint64 { return uint64(time.Now().UnixNano()) }
