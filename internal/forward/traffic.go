package forward

import "sync/atomic"

// trafficCounter tracks bytes moved in each direction of one connection or
// session, modeled on sdk/forward/forwarder.go's TrafficCounter.
type trafficCounter struct {
	downstreamToUpstream atomic.Int64
	upstreamToDownstream atomic.Int64
}

func (t *trafficCounter) addDownstreamToUpstream(n int64) {
	t.downstreamToUpstream.Add(n)
}

func (t *trafficCounter) addUpstreamToDownstream(n int64) {
	t.upstreamToDownstream.Add(n)
}

func (t *trafficCounter) snapshot() (downToUp, upToDown int64) {
	return t.downstreamToUpstream.Load(), t.upstreamToDownstream.Load()
}
