/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package linkframe implements a peer-to-peer framing protocol engine for
// reliable message exchange over a byte stream (serial link, socket, pipe).
// It frames application messages with an id/length/type header and optional
// checksums, demultiplexes received frames to registered listeners, and
// matches request/response pairs through frame-ID allocation with a
// peer-disambiguation bit. Transport I/O and the tick (time) source are the
// host's responsibility; the Engine only composes and parses bytes.
package linkframe

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/simeonmiteff/linkframe/capability"
	"github.com/simeonmiteff/linkframe/checksum"
)

// PeerBit disambiguates which side of a link allocated a given frame ID, so
// that two independently-counting endpoints never collide on outstanding
// query IDs.
type PeerBit uint8

const (
	PeerA PeerBit = 0
	PeerB PeerBit = 1
)

// Result is returned by a listener callback to tell the dispatcher how to
// proceed.
type Result int

const (
	// Next means this listener did not consume the message; try the next one.
	Next Result = iota
	// Stay means the message was consumed; the listener remains registered.
	Stay
	// Renew means the message was consumed; an ID listener's timeout resets.
	Renew
	// Close means the message was consumed and the listener should be removed.
	Close
)

func (r Result) String() string {
	switch r {
	case Next:
		return "Next"
	case Stay:
		return "Stay"
	case Renew:
		return "Renew"
	case Close:
		return "Close"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Msg is the message passed to listeners and accepted from senders.
type Msg struct {
	ID         uint32
	IsResponse bool
	Type       uint32
	// Data is the payload. For a multipart send, Data is left nil and Len
	// declares the eventual total; the caller then issues MultipartPayload
	// calls directly on the Engine.
	Data []byte
	Len  uint32

	// Userdata/Userdata2 round-trip through an ID listener's slot across
	// calls; they are the descendants of TinyFrame's per-listener userdata.
	Userdata  interface{}
	Userdata2 interface{}
}

// ResetMsg zeroes m in place, for callers that want to reuse a Msg value
// across calls in a hot loop instead of allocating a fresh one each time.
func ResetMsg(m *Msg) { *m = Msg{} }

// Listener handles a dispatched frame.
type Listener func(e *Engine, msg *Msg) Result

// ListenerTimeout is invoked when an ID listener's timeout counts down to
// zero before a matching response arrives. Its return value is not
// consulted by the tick handler, matching the reference engine's behavior.
type ListenerTimeout func(e *Engine) Result

// ClaimTxFunc and ReleaseTxFunc let a host substitute a real mutex (or an
// interrupt-disable pair) for the engine's built-in soft lock around each
// send session.
type ClaimTxFunc func(e *Engine) bool
type ReleaseTxFunc func(e *Engine)

// WriteFunc is the host-provided byte sink. It is called with one or more
// slices per frame and is never expected to fail from the engine's point of
// view; transport errors are the host's concern.
type WriteFunc func(e *Engine, data []byte)

// Config fixes the per-instance wire parameters. It is immutable once
// passed to Init.
type Config struct {
	IDWidth   int // 1, 2, or 4 bytes
	LenWidth  int // 1, 2, or 4 bytes
	TypeWidth int // 1, 2, or 4 bytes

	Checksum       checksum.Variant
	CustomChecksum checksum.Custom // only consulted for Custom8/16/32

	UseSOF  bool
	SOFByte byte

	MaxPayloadRX int
	SendBufLen   int

	MaxIDListeners      int
	MaxTypeListeners    int
	MaxGenericListeners int

	ParserTimeoutTicks int

	Write     WriteFunc
	ClaimTx   ClaimTxFunc // optional; nil means the built-in soft lock is used
	ReleaseTx ReleaseTxFunc

	Logger Logger
}

func (c *Config) widthMask(width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

type parserState int

const (
	stateSOF parserState = iota
	stateID
	stateLen
	stateType
	stateHeadCksum
	stateData
	stateDataCksum
)

func (s parserState) String() string {
	switch s {
	case stateSOF:
		return "sof"
	case stateID:
		return "id"
	case stateLen:
		return "len"
	case stateType:
		return "type"
	case stateHeadCksum:
		return "head_cksum"
	case stateData:
		return "data"
	case stateDataCksum:
		return "data_cksum"
	default:
		return fmt.Sprintf("parserState(%d)", int(s))
	}
}

type idListenerSlot struct {
	inUse       bool
	id          uint32
	fn          Listener
	fnTimeout   ListenerTimeout
	timeout     int
	timeoutMax  int
	userdata    interface{}
	userdata2   interface{}
}

type typeListenerSlot struct {
	inUse bool
	typ   uint32
	fn    Listener
}

type genericListenerSlot struct {
	inUse bool
	fn    Listener
}

// Engine is a single framing-protocol endpoint: parser state, sender state,
// and the three listener tables. It is not safe for concurrent use from
// multiple goroutines without external synchronization — exactly one
// goroutine should drive Accept/Tick/Send family calls at a time, matching
// the reference engine's single-threaded cooperative model.
type Engine struct {
	cfg     Config
	peerBit PeerBit
	idMask  uint32

	nextID uint32

	// receive state
	state              parserState
	parserTimeoutTicks int
	rxID, rxLen, rxTyp uint32
	rxi                int
	rxData             []byte
	discardData        bool
	cksum              checksum.Kernel
	refCksum           uint32

	// send state
	sendBuf  []byte
	txPos    int
	txLen    uint32
	txCksum  checksum.Kernel
	softLock bool

	idListeners      []idListenerSlot
	countIDLst       int
	typeListeners    []typeListenerSlot
	countTypeLst     int
	genericListeners []genericListenerSlot
	countGenericLst  int

	tag      xid.ID
	userdata interface{}

	// counters, exposed read-only through Stats()
	framesSent        uint64
	framesReceived    uint64
	headCksumErr      uint64
	dataCksumErr      uint64
	oversizeDiscarded uint64
	unhandled         uint64
}

// Init constructs a new Engine for the given peer role. It is the Go
// equivalent of TF_Init/TF_InitStatic: it allocates the fixed-capacity
// tables and buffers described by cfg and mints a fresh instance tag.
func Init(peerBit PeerBit, cfg Config) (*Engine, error) {
	if cfg.Write == nil {
		return nil, fmt.Errorf("linkframe: Config.Write is required")
	}
	if cfg.IDWidth == 0 {
		cfg.IDWidth = 2
	}
	if cfg.LenWidth == 0 {
		cfg.LenWidth = 2
	}
	if cfg.TypeWidth == 0 {
		cfg.TypeWidth = 1
	}
	if cfg.MaxPayloadRX == 0 {
		cfg.MaxPayloadRX = 1024
	}
	if cfg.SendBufLen == 0 {
		cfg.SendBufLen = 128
	}
	if cfg.MaxIDListeners == 0 {
		cfg.MaxIDListeners = 16
	}
	if cfg.MaxTypeListeners == 0 {
		cfg.MaxTypeListeners = 16
	}
	if cfg.MaxGenericListeners == 0 {
		cfg.MaxGenericListeners = 4
	}
	if cfg.ParserTimeoutTicks == 0 {
		cfg.ParserTimeoutTicks = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogrusLogger(nil)
	}

	switch cfg.Checksum {
	case checksum.Custom8, checksum.Custom16, checksum.Custom32:
		if !capability.CustomChecksumHooks {
			return nil, fmt.Errorf("linkframe: custom checksum kernels require capability.CustomChecksumHooks")
		}
	}
	if cfg.IDWidth > 1 || cfg.LenWidth > 1 || cfg.TypeWidth > 1 {
		if !capability.WideFields {
			return nil, fmt.Errorf("linkframe: header field widths above 1 byte require capability.WideFields")
		}
	}
	if (cfg.ClaimTx == nil) != (cfg.ReleaseTx == nil) {
		return nil, fmt.Errorf("linkframe: Config.ClaimTx and Config.ReleaseTx must be set together")
	}
	if cfg.ClaimTx != nil && !capability.ExternalSendLock {
		return nil, fmt.Errorf("linkframe: an external send lock requires capability.ExternalSendLock")
	}

	e := &Engine{}
	e.reinit(peerBit, cfg)
	return e, nil
}

// reinit performs the memset-and-restore dance TF_InitStatic does: table and
// parser/sender state are reset, but an already-set instance tag and
// userdata are preserved when called from Reset.
func (e *Engine) reinit(peerBit PeerBit, cfg Config) {
	preservedTag := e.tag
	preservedUserdata := e.userdata
	hadTag := preservedTag != (xid.ID{})

	*e = Engine{}
	e.cfg = cfg
	e.peerBit = peerBit
	e.idMask = cfg.widthMask(cfg.IDWidth) >> 1

	e.rxData = make([]byte, cfg.MaxPayloadRX)
	e.sendBuf = make([]byte, cfg.SendBufLen)
	e.idListeners = make([]idListenerSlot, cfg.MaxIDListeners)
	e.typeListeners = make([]typeListenerSlot, cfg.MaxTypeListeners)
	e.genericListeners = make([]genericListenerSlot, cfg.MaxGenericListeners)

	e.cksum = checksum.New(cfg.Checksum, cfg.CustomChecksum)
	e.txCksum = checksum.New(cfg.Checksum, cfg.CustomChecksum)

	e.state = stateSOF

	if hadTag {
		e.tag = preservedTag
		e.userdata = preservedUserdata
	} else {
		e.tag = xid.New()
	}
}

// Reset restores an Engine to its post-Init state — clearing every listener
// and all parser/sender state — while preserving Tag() and UserData. This is
// the direct analogue of calling TF_InitStatic again on a live instance.
func (e *Engine) Reset() {
	e.reinit(e.peerBit, e.cfg)
}

// Deinit releases any resources held by e. Because Engine holds no handles
// beyond Go-managed memory, this only exists for symmetry with the reference
// engine's Init/DeInit pairing and to make the intent of "this engine is done
// being used" explicit at call sites.
func (e *Engine) Deinit() {}

// Tag returns this Engine's instance-correlation identifier, minted once at
// Init and stable across Reset. It descends from the reference engine's
// usertag field and is suitable as a log/metric label.
func (e *Engine) Tag() string { return e.tag.String() }

// UserData returns the host-assigned value stashed on this Engine.
func (e *Engine) UserData() interface{} { return e.userdata }

// SetUserData stashes a host-assigned value on this Engine. Unlike listener
// userdata, this is not round-tripped through any callback; it survives
// Reset but not a brand new Init.
func (e *Engine) SetUserData(v interface{}) { e.userdata = v }

// Fields carries the structured context attached to a single log line, the
// way a logrus.Fields map decorates one Errorf call.
type Fields map[string]interface{}

// Logger is the structured-logging hook the engine reports all recovered
// protocol errors through. It never blocks the protocol's forward progress,
// matching the fire-and-forget TF_Error() calls in the reference engine.
type Logger interface {
	WithFields(fields Fields) Logger
	Errorf(format string, args ...interface{})
}

// logf attaches component/engine_tag and any call-site-specific fields
// (frame_id, state, ...) before handing the line to the configured Logger.
func (e *Engine) logf(component string, fields Fields, format string, args ...interface{}) {
	all := Fields{"component": component, "engine_tag": e.tag.String()}
	for k, v := range fields {
		all[k] = v
	}
	e.cfg.Logger.WithFields(all).Errorf(format, args...)
}
