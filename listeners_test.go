package linkframe

import "testing"

func newTestEngine(t *testing.T, sink *[][]byte) *Engine {
	t.Helper()
	e, err := Init(PeerA, Config{
		Checksum: 0, // checksum.None
		Write: func(_ *Engine, data []byte) {
			if sink != nil {
				*sink = append(*sink, append([]byte(nil), data...))
			}
		},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return e
}

func deliver(e *Engine, id, typ uint32, data []byte) {
	e.rxID = id
	e.rxTyp = typ
	e.rxData = append(e.rxData[:0], data...)
	e.rxLen = uint32(len(data))
	e.dispatch()
}

func TestDispatchOrderIDBeforeTypeBeforeGeneric(t *testing.T) {
	e := newTestEngine(t, nil)

	var order []string
	e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result {
		order = append(order, "id")
		return Next
	}, nil, 0)
	e.AddTypeListener(5, func(e *Engine, msg *Msg) Result {
		order = append(order, "type")
		return Next
	})
	e.AddGenericListener(func(e *Engine, msg *Msg) Result {
		order = append(order, "generic")
		return Stay
	})

	deliver(e, 1, 5, []byte("x"))

	if len(order) != 3 || order[0] != "id" || order[1] != "type" || order[2] != "generic" {
		t.Fatalf("dispatch order = %v, want [id type generic]", order)
	}
}

func TestDispatchStopsAtFirstNonNext(t *testing.T) {
	e := newTestEngine(t, nil)

	typeCalled := false
	genericCalled := false
	e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result {
		return Stay
	}, nil, 0)
	e.AddTypeListener(5, func(e *Engine, msg *Msg) Result {
		typeCalled = true
		return Next
	})
	e.AddGenericListener(func(e *Engine, msg *Msg) Result {
		genericCalled = true
		return Stay
	})

	deliver(e, 1, 5, []byte("x"))

	if typeCalled || genericCalled {
		t.Fatalf("dispatch should have stopped at the id listener")
	}
}

func TestCloseRemovesIDListener(t *testing.T) {
	e := newTestEngine(t, nil)

	calls := 0
	e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result {
		calls++
		return Close
	}, nil, 0)

	deliver(e, 1, 0, nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// Second delivery on the same id should now fall through uncaught (no
	// listener left), not invoke a stale slot.
	deliver(e, 1, 0, nil)
	if calls != 1 {
		t.Fatalf("closed listener was invoked again: calls = %d", calls)
	}
}

func TestRenewResetsIDListenerTimeout(t *testing.T) {
	e := newTestEngine(t, nil)

	e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result {
		return Renew
	}, nil, 5)

	for i := 0; i < 3; i++ {
		e.Tick()
	}
	deliver(e, 1, 0, nil) // Renew should reset timeout back to 5

	for i := 0; i < 4; i++ {
		e.Tick()
	}
	if !e.idListeners[0].inUse {
		t.Fatalf("listener expired even though Renew should have reset its timeout")
	}
	e.Tick()
	if e.idListeners[0].inUse {
		t.Fatalf("listener never expired after its renewed timeout elapsed")
	}
}

func TestTickExpiryInvokesTimeoutCallback(t *testing.T) {
	e := newTestEngine(t, nil)

	fired := false
	e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result {
		return Next
	}, func(e *Engine) Result {
		fired = true
		return Next
	}, 2)

	e.Tick()
	if fired {
		t.Fatalf("timeout callback fired too early")
	}
	e.Tick()
	if !fired {
		t.Fatalf("timeout callback never fired")
	}
	if e.idListeners[0].inUse {
		t.Fatalf("expired listener slot was not cleaned up")
	}
}

func TestUserdataRoundTripsAcrossIDListenerCalls(t *testing.T) {
	e := newTestEngine(t, nil)

	type counter struct{ n int }
	c := &counter{}
	e.AddIDListener(1, c, nil, func(e *Engine, msg *Msg) Result {
		got := msg.Userdata.(*counter)
		got.n++
		return Stay
	}, nil, 0)

	deliver(e, 1, 0, nil)
	deliver(e, 1, 0, nil)

	if c.n != 2 {
		t.Fatalf("userdata counter = %d, want 2", c.n)
	}
}

func TestCloseCleanupDoesNotInvokeSentinelCallback(t *testing.T) {
	e := newTestEngine(t, nil)

	sentinelSeen := false
	e.AddIDListener(1, "payload", nil, func(e *Engine, msg *Msg) Result {
		if msg.Data == nil && msg.Userdata != nil {
			sentinelSeen = true
		}
		return Close
	}, nil, 0)

	deliver(e, 1, 0, []byte("x"))

	if sentinelSeen {
		t.Fatalf("Close should not have triggered the cleanup sentinel call")
	}
}

func TestRemoveIDListenerTriggersCleanupSentinel(t *testing.T) {
	e := newTestEngine(t, nil)

	sentinelSeen := false
	e.AddIDListener(1, "payload", nil, func(e *Engine, msg *Msg) Result {
		if msg.Data == nil {
			sentinelSeen = true
		}
		return Stay
	}, nil, 0)

	e.RemoveIDListener(1)

	if !sentinelSeen {
		t.Fatalf("RemoveIDListener should have invoked the cleanup sentinel since userdata was set")
	}
}

func TestAddIDListenerTableFull(t *testing.T) {
	e, err := Init(PeerA, Config{
		MaxIDListeners: 1,
		Write:          func(*Engine, []byte) {},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if !e.AddIDListener(1, nil, nil, func(e *Engine, msg *Msg) Result { return Stay }, nil, 0) {
		t.Fatal("first listener should have fit")
	}
	if e.AddIDListener(2, nil, nil, func(e *Engine, msg *Msg) Result { return Stay }, nil, 0) {
		t.Fatal("second listener should have failed: table full")
	}
}
