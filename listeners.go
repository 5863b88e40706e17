package linkframe

// AddIDListener registers a listener keyed on a specific frame ID, optionally
// with an expiry: timeout == 0 means no expiry. It fails if the ID-listener
// table is full.
func (e *Engine) AddIDListener(id uint32, userdata, userdata2 interface{}, fn Listener, fnTimeout ListenerTimeout, timeout int) bool {
	for i := range e.idListeners {
		lst := &e.idListeners[i]
		if !lst.inUse {
			lst.inUse = true
			lst.id = id
			lst.fn = fn
			lst.fnTimeout = fnTimeout
			lst.userdata = userdata
			lst.userdata2 = userdata2
			lst.timeoutMax = timeout
			lst.timeout = timeout
			if i >= e.countIDLst {
				e.countIDLst = i + 1
			}
			return true
		}
	}
	e.logf("listeners", Fields{"frame_id": id}, "linkframe: failed to add id listener for id %d: table full", id)
	return false
}

// AddTypeListener registers a persistent listener for a specific message
// type. It fails if the type-listener table is full.
func (e *Engine) AddTypeListener(typ uint32, fn Listener) bool {
	for i := range e.typeListeners {
		lst := &e.typeListeners[i]
		if !lst.inUse {
			lst.inUse = true
			lst.typ = typ
			lst.fn = fn
			if i >= e.countTypeLst {
				e.countTypeLst = i + 1
			}
			return true
		}
	}
	e.logf("listeners", Fields{"type": typ}, "linkframe: failed to add type listener for type %d: table full", typ)
	return false
}

// AddGenericListener registers a persistent catch-all listener. It fails if
// the generic-listener table is full.
func (e *Engine) AddGenericListener(fn Listener) bool {
	for i := range e.genericListeners {
		lst := &e.genericListeners[i]
		if !lst.inUse {
			lst.inUse = true
			lst.fn = fn
			if i >= e.countGenericLst {
				e.countGenericLst = i + 1
			}
			return true
		}
	}
	e.logf("listeners", nil, "linkframe: failed to add generic listener: table full")
	return false
}

// cleanupIDListener notifies the listener (if it carries userdata) that it
// is being torn down by calling it once more with Data == nil as a cleanup
// sentinel, then clears the slot.
func (e *Engine) cleanupIDListener(i int) {
	lst := &e.idListeners[i]
	if lst.fn == nil && !lst.inUse {
		return
	}
	if lst.userdata != nil || lst.userdata2 != nil {
		msg := &Msg{
			ID:        lst.id,
			Userdata:  lst.userdata,
			Userdata2: lst.userdata2,
			Data:      nil,
		}
		if lst.fn != nil {
			lst.fn(e, msg) // return value ignored; slot is being destroyed regardless
		}
	}
	*lst = idListenerSlot{}
	if i == e.countIDLst-1 {
		e.countIDLst--
	}
}

func (e *Engine) cleanupTypeListener(i int) {
	e.typeListeners[i] = typeListenerSlot{}
	if i == e.countTypeLst-1 {
		e.countTypeLst--
	}
}

func (e *Engine) cleanupGenericListener(i int) {
	e.genericListeners[i] = genericListenerSlot{}
	if i == e.countGenericLst-1 {
		e.countGenericLst--
	}
}

// RemoveIDListener removes the ID listener matching id, if any.
func (e *Engine) RemoveIDListener(id uint32) bool {
	for i := 0; i < e.countIDLst; i++ {
		lst := &e.idListeners[i]
		if lst.inUse && lst.id == id {
			e.cleanupIDListener(i)
			return true
		}
	}
	e.logf("listeners", Fields{"frame_id": id}, "linkframe: id listener %d not found for removal", id)
	return false
}

// RemoveTypeListener removes the type listener matching typ, if any.
func (e *Engine) RemoveTypeListener(typ uint32) bool {
	for i := 0; i < e.countTypeLst; i++ {
		lst := &e.typeListeners[i]
		if lst.inUse && lst.typ == typ {
			e.cleanupTypeListener(i)
			return true
		}
	}
	e.logf("listeners", Fields{"type": typ}, "linkframe: type listener %d not found for removal", typ)
	return false
}

// RemoveGenericListener removes the first generic listener whose callback
// equals fn. Go func values are not comparable in general, so equality here
// is by underlying code pointer (see sameListener): two closures created
// from the same function literal count as the same listener.
func (e *Engine) RemoveGenericListener(fn Listener) bool {
	for i := 0; i < e.countGenericLst; i++ {
		lst := &e.genericListeners[i]
		if lst.inUse && sameListener(lst.fn, fn) {
			e.cleanupGenericListener(i)
			return true
		}
	}
	e.logf("listeners", nil, "linkframe: generic listener not found for removal")
	return false
}

// RenewIDListener resets a live ID listener's timeout back to its original
// value, as if it had just been (re-)registered.
func (e *Engine) RenewIDListener(id uint32) bool {
	for i := 0; i < e.countIDLst; i++ {
		lst := &e.idListeners[i]
		if lst.inUse && lst.id == id {
			lst.timeout = lst.timeoutMax
			return true
		}
	}
	e.logf("listeners", Fields{"frame_id": id}, "linkframe: renew failed: id listener %d not found", id)
	return false
}

// dispatch runs a newly-parsed frame through ID, then type, then generic
// listeners, stopping at the first one that returns anything but Next.
func (e *Engine) dispatch() {
	e.framesReceived++

	msg := &Msg{
		ID:         e.rxID,
		IsResponse: false,
		Type:       e.rxTyp,
		Data:       e.rxData[:e.rxLen],
		Len:        e.rxLen,
	}

	for i := 0; i < e.countIDLst; i++ {
		lst := &e.idListeners[i]
		if !lst.inUse || lst.id != msg.ID {
			continue
		}

		msg.Userdata = lst.userdata
		msg.Userdata2 = lst.userdata2
		res := lst.fn(e, msg)
		lst.userdata = msg.Userdata
		lst.userdata2 = msg.Userdata2

		if res != Next {
			switch res {
			case Renew:
				lst.timeout = lst.timeoutMax
			case Close:
				lst.userdata = nil
				lst.userdata2 = nil
				e.cleanupIDListener(i)
			}
			return
		}
	}

	// Prevents an ID listener's userdata from leaking into type/generic
	// listeners, which have no userdata slots of their own.
	msg.Userdata = nil
	msg.Userdata2 = nil

	for i := 0; i < e.countTypeLst; i++ {
		lst := &e.typeListeners[i]
		if !lst.inUse || lst.typ != msg.Type {
			continue
		}

		res := lst.fn(e, msg)
		if res != Next {
			if res == Close {
				e.cleanupTypeListener(i)
			}
			return
		}
	}

	for i := 0; i < e.countGenericLst; i++ {
		lst := &e.genericListeners[i]
		if !lst.inUse {
			continue
		}

		res := lst.fn(e, msg)
		if res != Next {
			if res == Close {
				e.cleanupGenericListener(i)
			}
			return
		}
	}

	e.unhandled++
	e.logf("listeners", Fields{"frame_id": msg.ID, "state": "dispatched"}, "linkframe: unhandled message, type %d", msg.Type)
}
