/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command tcpdemo runs one linkframe engine as a TCP server and another as a
// client against it, exchanging a few query/response frames over a real
// socket and exposing both engines' counters on /metrics.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/simeonmiteff/linkframe"
	"github.com/simeonmiteff/linkframe/checksum"
	"github.com/simeonmiteff/linkframe/metrics"
	"github.com/simeonmiteff/linkframe/transport"
)

const pingType = 1

// syncEngine serializes every Accept/Tick/Query call into the shared Engine,
// the same way TCPInfoCollector carries its own sync.Mutex around concurrent
// Add/Remove/Collect calls: the Engine's own contract leaves that to the
// host, since exactly one goroutine driving it at a time is the norm this
// demo deliberately doesn't follow (a read loop, a ticker, and the query
// driver all touch it here).
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

// setNoDelay reaches past net.TCPConn.SetNoDelay to the raw fd, the way a
// host that wants TCP_NODELAY on a non-*net.TCPConn transport would have to.
func setNoDelay(conn net.Conn, log logrus.FieldLogger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	fd := netfd.GetFdFromConn(tc)
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		log.WithError(err).Warn("setsockopt TCP_NODELAY failed")
	}
}

func runEndpoint(peer linkframe.PeerBit, rwc *transport.Conn, remote string, collector *metrics.EngineCollector, log logrus.FieldLogger) *syncEngine {
	e, err := linkframe.Init(peer, linkframe.Config{
		Checksum: checksum.CRC32,
		UseSOF:   true,
		SOFByte:  0x01,
		Write: func(_ *linkframe.Engine, data []byte) {
			if _, err := rwc.Write(data); err != nil {
				log.WithError(err).Error("write failed")
			}
		},
		Logger: linkframe.NewLogrusLogger(log),
	})
	if err != nil {
		panic(err)
	}

	taggedLog := linkframe.WithTag(log, e.Tag())
	e.AddTypeListener(pingType, func(e *linkframe.Engine, msg *linkframe.Msg) linkframe.Result {
		if msg.IsResponse {
			return linkframe.Next
		}
		reply := append([]byte(nil), msg.Data...)
		reply = append(reply, []byte(" pong")...)
		e.Respond(&linkframe.Msg{ID: msg.ID, Type: pingType, Data: reply, Len: uint32(len(reply))})
		return linkframe.Stay
	})

	collector.Add(e.Tag(), []string{e.Tag(), remote}, e.Stats)

	se := &syncEngine{e: e}

	go func() {
		buf := make([]byte, 512)
		for {
			n, err := rwc.Read(buf)
			if n > 0 {
				se.Accept(buf[:n])
			}
			if err != nil {
				taggedLog.Errorf("connection read loop exiting: %v", err)
				collector.Remove(e.Tag())
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	go func() {
		for range ticker.C {
			se.Tick()
		}
	}()

	return se
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:17171", "address to listen on")
	metricsAddr := flag.String("metrics", ":18080", "address to serve /metrics on")
	flag.Parse()

	log := logrus.StandardLogger()

	hostname, _ := os.Hostname()
	collector := metrics.NewEngineCollector("linkframe", []string{"tag", "remote"}, prometheus.Labels{
		"app":      "tcpdemo",
		"hostname": hostname,
	}, func(err error) { log.WithError(err).Warn("metrics collector error") })
	prometheus.MustRegister(collector)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithError(err).Fatal("metrics server exited")
		}
	}()

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.WithError(err).Fatal("listen failed")
	}
	fmt.Printf("listening on %s, metrics on %s\n", ln.Addr(), *metricsAddr)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Fatal("accept failed")
		}
		setNoDelay(conn, log)
		server := transport.Wrap(conn, func(c *transport.Conn, state int) {
			log.WithField("state", transport.StateMap[state]).Info("server connection state changed")
		})
		runEndpoint(linkframe.PeerB, server, conn.RemoteAddr().String(), collector, log.WithField("role", "server"))
	}()

	time.Sleep(100 * time.Millisecond)
	conn, err := net.Dial("tcp", *listenAddr)
	if err != nil {
		log.WithError(err).Fatal("dial failed")
	}
	setNoDelay(conn, log)
	client := transport.Wrap(conn, func(c *transport.Conn, state int) {
		log.WithField("state", transport.StateMap[state]).Info("client connection state changed")
	})
	clientTag := xid.New().String()
	clientEngine := runEndpoint(linkframe.PeerA, client, conn.RemoteAddr().String(), collector, log.WithField("role", "client").WithField("session", clientTag))

	for i := 0; i < 5; i++ {
		clientEngine.QuerySimple(pingType, []byte(fmt.Sprintf("ping %d", i)),
			func(e *linkframe.Engine, msg *linkframe.Msg) linkframe.Result {
				fmt.Printf("got reply: %s\n", msg.Data)
				return linkframe.Close
			}, func(e *linkframe.Engine) linkframe.Result {
				fmt.Println("query timed out")
				return linkframe.Close
			}, 20)
		time.Sleep(100 * time.Millisecond)
	}

	select {}
}
