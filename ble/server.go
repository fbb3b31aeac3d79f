// Package ble is the wireless command surface: it binds supervised states to
// their characteristics, answers read requests, decodes command writes onto
// the instruction queue and forwards log lines on demand.
//
// The GATT framing itself is a transport binding supplied from outside; this
// package only speaks UUID <-> bytes.
package ble

import (
	"context"

	"powerbox-go/logging"
	"powerbox-go/queue"
	"powerbox-go/state"
)

// Transport is the binding to the wireless stack.
type Transport interface {
	// Notify pushes a payload to the subscribed client, if any.
	Notify(u UUID, payload []byte)
	StartAdvertising()
	StopAdvertising()
}

// Controls collects the component entry points commands act on. Everything
// here executes on the instruction task, never on the transport callback.
type Controls struct {
	PSUOn         func()
	PSUOff        func()
	PSUSetCurrent func(channel int)

	InverterOn  func()
	InverterOff func()

	ATSEnable  func()
	ATSDisable func()

	ProfileSet func(key uint8, raw []byte)

	OTAUpdate func()

	PullHistory func()

	Reboot func()
}

type Config struct {
	Transport    Transport
	Instructions *queue.Instructions
	Controls     Controls
	Log          *logging.Logger
	State        state.Config
}

// Server is the wireless surface. It owns a supervised state of its own so
// the display can show the link condition.
type Server struct {
	transport Transport
	queue     *queue.Instructions
	controls  Controls
	log       *logging.Logger
	state     *state.Base

	registry map[UUID]*state.Base
	fwd      *logForwarder
}

func NewServer(cfg Config) *Server {
	st := cfg.State
	st.Name = "BLE"
	st.Log = cfg.Log
	s := &Server{
		transport: cfg.Transport,
		queue:     cfg.Instructions,
		controls:  cfg.Controls,
		log:       cfg.Log,
		state:     state.NewBase(st),
		registry:  map[UUID]*state.Base{},
	}
	s.fwd = newLogForwarder(cfg.Transport)
	return s
}

func (s *Server) State() *state.Base { return s.state }

// Register binds a supervised state to its characteristic: change
// notifications flow out through the sink, read requests through ReadState.
func (s *Server) Register(u UUID, b *state.Base) {
	s.registry[u] = b
	b.AttachSink(&sink{transport: s.transport, stateUUID: u})
}

// ---- Transport callbacks ----

// OnConnect is invoked by the binding when a central subscribes.
func (s *Server) OnConnect() {
	s.state.On()
	s.transport.StopAdvertising()
}

// OnDisconnect restarts advertising so the next client can find us.
func (s *Server) OnDisconnect() {
	s.state.Off()
	s.fwd.setEnabled(nil) // forwarding dies with the client
	s.transport.StartAdvertising()
}

// ReadState lazily packs the current state for a read request.
func (s *Server) ReadState(u UUID) []byte {
	b, ok := s.registry[u]
	if !ok {
		return nil
	}
	return b.WireState()
}

// OnWrite decodes a command write. All side-effecting operations are pushed
// onto the instruction queue; the transport callback never mutates state.
func (s *Server) OnWrite(u UUID, data []byte) {
	if u != CommandUUID || len(data) == 0 {
		return
	}
	op := data[0]
	operands := data[1:]

	switch op {
	case cmdPullHistory:
		s.enqueue(s.controls.PullHistory)

	case cmdPSUOn:
		s.enqueue(s.controls.PSUOn)
	case cmdPSUOff:
		s.enqueue(s.controls.PSUOff)
	case cmdPSUSetCurrent:
		if len(operands) < 1 || s.controls.PSUSetCurrent == nil {
			return
		}
		channel := int(operands[0])
		s.queue.Add(func() { s.controls.PSUSetCurrent(channel) })

	case cmdInverterOn:
		s.enqueue(s.controls.InverterOn)
	case cmdInverterOff:
		s.enqueue(s.controls.InverterOff)

	case cmdATSEnable:
		s.enqueue(s.controls.ATSEnable)
	case cmdATSDisable:
		s.enqueue(s.controls.ATSDisable)

	case cmdProfileSet:
		if len(operands) < 1 || s.controls.ProfileSet == nil {
			return
		}
		key := operands[0]
		raw := append([]byte(nil), operands[1:]...)
		s.queue.Add(func() { s.controls.ProfileSet(key, raw) })

	case cmdOTAUpdate:
		s.enqueue(s.controls.OTAUpdate)

	case cmdLogForwardOn:
		s.enqueue(func() { s.fwd.setEnabled(s.logSource()) })
	case cmdLogForwardOff:
		s.enqueue(func() { s.fwd.setEnabled(nil) })

	case cmdReboot:
		s.enqueue(s.controls.Reboot)

	default:
		s.log.Warning("unknown wireless command", int(op))
	}
}

func (s *Server) enqueue(fn func()) {
	if fn == nil {
		return
	}
	s.queue.Add(fn)
}

func (s *Server) logSource() *logging.Logger { return s.log }

// Run is the wireless task: health snapshots plus the log-forward drain.
func (s *Server) Run(ctx context.Context) {
	s.log.Info("running wireless controller")
	go s.fwd.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.state.Snapshot()
		s.state.Sleep()
	}
}

// ---- Sink adapter ----

type sink struct {
	transport Transport
	stateUUID UUID
}

func (s *sink) NotifyState(payload []byte) { s.transport.Notify(s.stateUUID, payload) }

func (s *sink) NotifyHistory(payload []byte) { s.transport.Notify(HistoryUUID, payload) }
