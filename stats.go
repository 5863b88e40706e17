package linkframe

import "github.com/simeonmiteff/linkframe/metrics"

// Stats snapshots this engine's counters for a metrics.EngineCollector. The
// collector calls this through a closure supplied at Add time, so package
// linkframe never has to import the prometheus client directly.
func (e *Engine) Stats() *metrics.EngineStats {
	return &metrics.EngineStats{
		FramesSent:        e.framesSent,
		FramesReceived:    e.framesReceived,
		HeadChecksumErr:   e.headCksumErr,
		DataChecksumErr:   e.dataCksumErr,
		OversizeDiscarded: e.oversizeDiscarded,
		Unhandled:         e.unhandled,
		IDListenersInUse:  e.countIDListenersInUse(),
		TypeListenersInUse: e.countTypeListenersInUse(),
		GenericListenersInUse: e.countGenericListenersInUse(),
	}
}

// The three count* helpers scan only up to each table's high-water mark,
// the same bound dispatch() and Tick() use, and skip interior holes left by
// out-of-order removals.

func (e *Engine) countIDListenersInUse() int {
	n := 0
	for i := 0; i < e.countIDLst; i++ {
		if e.idListeners[i].inUse {
			n++
		}
	}
	return n
}

func (e *Engine) countTypeListenersInUse() int {
	n := 0
	for i := 0; i < e.countTypeLst; i++ {
		if e.typeListeners[i].inUse {
			n++
		}
	}
	return n
}

func (e *Engine) countGenericListenersInUse() int {
	n := 0
	for i := 0; i < e.countGenericLst; i++ {
		if e.genericListeners[i].inUse {
			n++
		}
	}
	return n
}
