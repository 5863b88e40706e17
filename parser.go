package linkframe

import "github.com/simeonmiteff/linkframe/checksum"

// Accept feeds a buffer of received bytes through the parser one byte at a
// time, mirroring TF_Accept's loop over TF_AcceptChar.
func (e *Engine) Accept(data []byte) {
	for _, b := range data {
		e.AcceptChar(b)
	}
}

// ResetParser abandons any partially-received frame and returns the parser
// to its initial state. More initialization happens lazily when the next
// frame's first byte arrives.
func (e *Engine) ResetParser() {
	e.state = stateSOF
	e.rxi = 0
}

func (e *Engine) beginFrame() {
	e.cksum.Start()
	if e.cfg.UseSOF {
		e.cksum.Add(e.cfg.SOFByte)
	}
	e.discardData = false
	e.state = stateID
	e.rxi = 0
	e.rxID, e.rxLen, e.rxTyp = 0, 0, 0
}

// AcceptChar is the byte-at-a-time receive state machine: SOF -> ID -> LEN ->
// TYPE -> HEAD_CKSUM -> DATA -> DATA_CKSUM.
func (e *Engine) AcceptChar(c byte) {
	if e.parserTimeoutTicks >= e.cfg.ParserTimeoutTicks {
		if e.state != stateSOF {
			staleState := e.state
			e.ResetParser()
			e.logf("parser", Fields{"state": staleState.String()}, "linkframe: parser timeout, dropping partial frame")
		}
	}
	e.parserTimeoutTicks = 0

	if !e.cfg.UseSOF && e.state == stateSOF {
		e.beginFrame()
	}

	switch e.state {
	case stateSOF:
		if c == e.cfg.SOFByte {
			e.beginFrame()
		}

	case stateID:
		e.cksum.Add(c)
		e.rxID = (e.rxID << 8) | uint32(c)
		e.rxi++
		if e.rxi == e.cfg.IDWidth {
			e.state = stateLen
			e.rxi = 0
		}

	case stateLen:
		e.cksum.Add(c)
		e.rxLen = (e.rxLen << 8) | uint32(c)
		e.rxi++
		if e.rxi == e.cfg.LenWidth {
			e.state = stateType
			e.rxi = 0
		}

	case stateType:
		e.cksum.Add(c)
		e.rxTyp = (e.rxTyp << 8) | uint32(c)
		e.rxi++
		if e.rxi == e.cfg.TypeWidth {
			if e.cfg.Checksum == checksum.None {
				if e.rxLen == 0 {
					e.dispatch()
					e.ResetParser()
					return
				}
				e.state = stateData
				e.rxi = 0
				if int(e.rxLen) > len(e.rxData) {
					e.oversizeDiscarded++
					e.logf("parser", Fields{"frame_id": e.rxID, "state": stateData.String()},
						"linkframe: received payload too large: %d > %d", e.rxLen, len(e.rxData))
					e.discardData = true
				}
			} else {
				e.state = stateHeadCksum
				e.rxi = 0
				e.refCksum = 0
			}
		}

	case stateHeadCksum:
		e.refCksum = (e.refCksum << 8) | uint32(c)
		e.rxi++
		if e.rxi == e.cfg.Checksum.Width() {
			got := e.cksum.End()
			if got != e.refCksum {
				e.headCksumErr++
				e.logf("parser", Fields{"frame_id": e.rxID, "state": stateHeadCksum.String()},
					"linkframe: head checksum mismatch: got %#x want %#x", e.refCksum, got)
				e.ResetParser()
				return
			}

			if e.rxLen == 0 {
				e.dispatch()
				e.ResetParser()
				return
			}

			e.state = stateData
			e.rxi = 0
			e.cksum.Start()

			if int(e.rxLen) > len(e.rxData) {
				e.oversizeDiscarded++
				e.logf("parser", Fields{"frame_id": e.rxID, "state": stateData.String()},
					"linkframe: received payload too large: %d > %d", e.rxLen, len(e.rxData))
				e.discardData = true
			}
		}

	case stateData:
		if e.discardData {
			e.rxi++
		} else {
			e.cksum.Add(c)
			e.rxData[e.rxi] = c
			e.rxi++
		}

		if uint32(e.rxi) == e.rxLen {
			if e.cfg.Checksum == checksum.None {
				if !e.discardData {
					e.dispatch()
				}
				e.ResetParser()
			} else {
				e.state = stateDataCksum
				e.rxi = 0
				e.refCksum = 0
			}
		}

	case stateDataCksum:
		e.refCksum = (e.refCksum << 8) | uint32(c)
		e.rxi++
		if e.rxi == e.cfg.Checksum.Width() {
			got := e.cksum.End()
			if !e.discardData {
				if got == e.refCksum {
					e.dispatch()
				} else {
					e.dataCksumErr++
					e.logf("parser", Fields{"frame_id": e.rxID, "state": stateDataCksum.String()},
						"linkframe: body checksum mismatch: got %#x want %#x", e.refCksum, got)
				}
			}
			e.ResetParser()
		}
	}
}
