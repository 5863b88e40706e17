/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command serialdemo drives a linkframe engine over a real serial port,
// sending a periodic ping and logging whatever comes back. It is meant to
// run against a loopback cable (TX wired to RX) or a peer device running its
// own engine on the wire.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	serial "github.com/daedaluz/goserial"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/linkframe"
	"github.com/simeonmiteff/linkframe/checksum"
	"github.com/simeonmiteff/linkframe/transport"
)

const pingType = 1

// syncEngine serializes the read loop, the ticker, and the ping driver onto
// one lock, since the Engine documents itself as safe for exactly one
// goroutine to drive Accept/Tick/Send calls at a time and this demo runs all
// three from separate goroutines.
type syncEngine struct {
	mu sync.Mutex
	e  *linkframe.Engine
}

func (s *syncEngine) Accept(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.e.Accept(data)
}

func (s *syncEngine) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.e.Tick()
}

func (s *syncEngine) QuerySimple(typ uint32, data []byte, listener linkframe.Listener, fnTimeout linkframe.ListenerTimeout, timeout int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.QuerySimple(typ, data, listener, fnTimeout, timeout)
}

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device path")
	baud := flag.Uint("baud", uint(serial.B115200), "baud rate constant (linux termios value)")
	flag.Parse()

	log := logrus.StandardLogger()

	port, err := serial.Open(*device, serial.NewOptions())
	if err != nil {
		log.WithError(err).Fatal("open serial port failed")
	}
	defer port.Close()

	attrs, err := port.GetAttr()
	if err != nil {
		log.WithError(err).Fatal("get termios attrs failed")
	}
	attrs.MakeRaw()
	attrs.SetSpeed(serial.CFlag(*baud))
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		log.WithError(err).Fatal("set termios attrs failed")
	}

	conn := transport.Wrap(port, func(c *transport.Conn, state int) {
		log.WithField("state", transport.StateMap[state]).Info("serial link state changed")
	})

	e, err := linkframe.Init(linkframe.PeerA, linkframe.Config{
		Checksum: checksum.CRC8,
		UseSOF:   true,
		SOFByte:  0x01,
		Write: func(_ *linkframe.Engine, data []byte) {
			if _, err := conn.Write(data); err != nil {
				log.WithError(err).Error("serial write failed")
			}
		},
		Logger: linkframe.NewLogrusLogger(log),
	})
	if err != nil {
		log.WithError(err).Fatal("engine init failed")
	}

	taggedLog := linkframe.WithTag(log, e.Tag())

	e.AddTypeListener(pingType, func(e *linkframe.Engine, msg *linkframe.Msg) linkframe.Result {
		if msg.IsResponse {
			return linkframe.Next
		}
		taggedLog.Errorf("received ping %q, responding", msg.Data)
		e.Respond(&linkframe.Msg{ID: msg.ID, Type: pingType, Data: []byte("pong"), Len: 4})
		return linkframe.Stay
	})

	se := &syncEngine{e: e}

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				se.Accept(buf[:n])
			}
			if err != nil {
				taggedLog.Errorf("serial read loop exiting: %v", err)
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			se.Tick()
		}
	}()

	n := 0
	pingTicker := time.NewTicker(2 * time.Second)
	defer pingTicker.Stop()
	for range pingTicker.C {
		n++
		payload := []byte(fmt.Sprintf("ping %d", n))
		se.QuerySimple(pingType, payload, func(e *linkframe.Engine, msg *linkframe.Msg) linkframe.Result {
			fmt.Printf("reply: %s\n", msg.Data)
			return linkframe.Close
		}, func(e *linkframe.Engine) linkframe.Result {
			fmt.Println("ping timed out")
			return linkframe.Close
		}, 10)
	}
}
