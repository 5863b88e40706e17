package linkframe

import (
	"github.com/simeonmiteff/linkframe/capability"
	"github.com/simeonmiteff/linkframe/checksum"
)

// claimTx acquires the send lock: either the host-supplied external hook, or
// the engine's own one-bit soft lock.
func (e *Engine) claimTx() bool {
	if e.cfg.ClaimTx != nil {
		return e.cfg.ClaimTx(e)
	}
	if e.softLock {
		return false
	}
	e.softLock = true
	return true
}

func (e *Engine) releaseTx() {
	if e.cfg.ReleaseTx != nil {
		e.cfg.ReleaseTx(e)
		return
	}
	e.softLock = false
}

// flush hands everything currently staged to the host byte sink and resets
// the cursor. tx_pos only ever moves forward between flushes and is always
// fully drained here, so a byte is never staged and then re-emitted.
func (e *Engine) flush() {
	if e.txPos > 0 {
		e.cfg.Write(e, e.sendBuf[:e.txPos])
		e.txPos = 0
	}
}

func (e *Engine) stageByte(b byte) {
	if e.txPos == len(e.sendBuf) {
		e.flush()
	}
	e.sendBuf[e.txPos] = b
	e.txPos++
}

// stageNum writes value as width big-endian bytes, flushing the stage buffer
// whenever it fills, and optionally folding each byte into k.
func (e *Engine) stageNum(width int, value uint32, k checksum.Kernel) {
	for si := width - 1; si >= 0; si-- {
		b := byte(value >> uint(si*8))
		e.stageByte(b)
		if k != nil {
			k.Add(b)
		}
	}
}

// allocateID fixes msg.ID: reused verbatim for a response (it carries the
// remote peer's bit), or the next local ID under this engine's peer bit for
// a new send. It runs before any header byte is staged, so that a caller
// registering a response listener always does so against the ID that will
// actually go out on the wire.
func (e *Engine) allocateID(msg *Msg) {
	if msg.IsResponse {
		return
	}
	id := e.nextID & e.idMask
	e.nextID++
	if e.peerBit != 0 {
		id |= e.idMask + 1
	}
	msg.ID = id
}

// composeHead stages SOF/ID/LEN/TYPE and the head checksum for msg, whose ID
// must already be fixed by allocateID.
func (e *Engine) composeHead(msg *Msg) {
	head := checksum.New(e.cfg.Checksum, e.cfg.CustomChecksum)
	head.Start()

	if e.cfg.UseSOF {
		e.stageByte(e.cfg.SOFByte)
		head.Add(e.cfg.SOFByte)
	}

	e.stageNum(e.cfg.IDWidth, msg.ID, head)
	e.stageNum(e.cfg.LenWidth, msg.Len, head)
	e.stageNum(e.cfg.TypeWidth, msg.Type, head)

	if e.cfg.Checksum != checksum.None {
		e.stageNum(e.cfg.Checksum.Width(), head.End(), nil)
	}
}

// composeBody stages payload bytes, folding each into the running
// transmit checksum. It does not check the running total against the
// frame's declared length — multipart callers are responsible for honesty.
func (e *Engine) composeBody(data []byte) {
	for _, b := range data {
		e.stageByte(b)
		e.txCksum.Add(b)
	}
}

func (e *Engine) composeTail() {
	if e.cfg.Checksum == checksum.None {
		return
	}
	e.stageNum(e.cfg.Checksum.Width(), e.txCksum.End(), nil)
}

// sendFrameBegin claims the send lock, fixes the frame ID and registers an
// optional response listener against it, then composes and stages the head
// and arms the body checksum. The listener goes into the ID table before
// composeHead stages a single byte, so a reply can never race ahead of the
// table entry meant to catch it.
func (e *Engine) sendFrameBegin(msg *Msg, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	if !e.claimTx() {
		e.logf("send", nil, "linkframe: send failed: transmit lock already held")
		return false
	}

	e.allocateID(msg)

	if listener != nil {
		if !e.AddIDListener(msg.ID, msg.Userdata, msg.Userdata2, listener, fnTimeout, timeout) {
			e.releaseTx()
			return false
		}
	}

	e.composeHead(msg)
	e.txLen = msg.Len
	e.txCksum.Start()
	return true
}

// sendFrameChunk stages all or part of a frame body. Safe to call multiple
// times for a single in-flight multipart send.
func (e *Engine) sendFrameChunk(data []byte) {
	e.composeBody(data)
}

// sendFrameEnd appends the body checksum (if any payload was sent) and
// flushes and releases the send lock.
func (e *Engine) sendFrameEnd() {
	if e.txLen > 0 {
		if len(e.sendBuf)-e.txPos < e.cfg.Checksum.Width() {
			e.flush()
		}
		e.composeTail()
	}
	e.flush()
	e.releaseTx()
	e.framesSent++
}

func (e *Engine) sendFrame(msg *Msg, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	if !e.sendFrameBegin(msg, listener, fnTimeout, timeout) {
		return false
	}
	if msg.Len == 0 || msg.Data != nil {
		e.sendFrameChunk(msg.Data)
		e.sendFrameEnd()
	}
	return true
}

// Send transmits msg without a response listener.
func (e *Engine) Send(msg *Msg) bool {
	return e.sendFrame(msg, nil, nil, 0)
}

// SendSimple builds and sends a Msg from its payload and type directly.
func (e *Engine) SendSimple(typ uint32, data []byte) bool {
	return e.Send(&Msg{Type: typ, Data: data, Len: uint32(len(data))})
}

// Query sends msg and registers listener against the allocated (or given,
// for a response) frame ID to receive the matching reply.
func (e *Engine) Query(msg *Msg, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	return e.sendFrame(msg, listener, fnTimeout, timeout)
}

// QuerySimple is Query without a pre-built Msg.
func (e *Engine) QuerySimple(typ uint32, data []byte, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	return e.Query(&Msg{Type: typ, Data: data, Len: uint32(len(data))}, listener, fnTimeout, timeout)
}

// Respond sends msg as a response, reusing msg.ID verbatim (which carries
// the remote endpoint's peer bit) instead of allocating a new local ID.
func (e *Engine) Respond(msg *Msg) bool {
	msg.IsResponse = true
	return e.Send(msg)
}

// SendMultipart begins a multipart send: the head is staged immediately
// (reaching the host sink once the stage buffer fills or the send closes),
// but the body is left to one or more MultipartPayload calls followed by
// MultipartClose.
func (e *Engine) SendMultipart(msg *Msg) bool {
	if !capability.MultipartSend {
		e.logf("send", Fields{"frame_id": msg.ID}, "linkframe: multipart send unavailable: capability.MultipartSend is false")
		return false
	}
	msg.Data = nil
	return e.Send(msg)
}

// SendSimpleMultipart begins a multipart send of length bytes under typ.
func (e *Engine) SendSimpleMultipart(typ uint32, length uint32) bool {
	return e.SendMultipart(&Msg{Type: typ, Len: length})
}

// QueryMultipart begins a multipart query.
func (e *Engine) QueryMultipart(msg *Msg, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	if !capability.MultipartSend {
		e.logf("send", Fields{"frame_id": msg.ID}, "linkframe: multipart query unavailable: capability.MultipartSend is false")
		return false
	}
	msg.Data = nil
	return e.Query(msg, listener, fnTimeout, timeout)
}

// QuerySimpleMultipart begins a multipart query without a pre-built Msg.
func (e *Engine) QuerySimpleMultipart(typ uint32, length uint32, listener Listener, fnTimeout ListenerTimeout, timeout int) bool {
	return e.QueryMultipart(&Msg{Type: typ, Len: length}, listener, fnTimeout, timeout)
}

// RespondMultipart begins a multipart response.
func (e *Engine) RespondMultipart(msg *Msg) {
	if !capability.MultipartSend {
		e.logf("send", Fields{"frame_id": msg.ID}, "linkframe: multipart respond unavailable: capability.MultipartSend is false")
		return
	}
	msg.Data = nil
	msg.IsResponse = true
	e.Send(msg)
}

// MultipartPayload stages the next slice of an in-flight multipart send's
// body. It does not verify that the cumulative bytes staged match the
// length declared when the multipart send began.
func (e *Engine) MultipartPayload(data []byte) {
	e.sendFrameChunk(data)
}

// MultipartClose finishes an in-flight multipart send: appends the tail
// checksum, flushes, and releases the send lock.
func (e *Engine) MultipartClose() {
	e.sendFrameEnd()
}
