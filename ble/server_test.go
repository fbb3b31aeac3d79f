package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"powerbox-go/logging"
	"powerbox-go/queue"
	"powerbox-go/state"
)

type fakeTransport struct {
	mu          sync.Mutex
	notified    map[UUID][][]byte
	advertising bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notified: map[UUID][][]byte{}, advertising: true}
}

func (f *fakeTransport) Notify(u UUID, payload []byte) {
	f.mu.Lock()
	f.notified[u] = append(f.notified[u], append([]byte(nil), payload...))
	f.mu.Unlock()
}

func (f *fakeTransport) StartAdvertising() {
	f.mu.Lock()
	f.advertising = true
	f.mu.Unlock()
}

func (f *fakeTransport) StopAdvertising() {
	f.mu.Lock()
	f.advertising = false
	f.mu.Unlock()
}

func (f *fakeTransport) count(u UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified[u])
}

type rig struct {
	server    *fakeServer
	transport *fakeTransport
	queue     *queue.Instructions
	cancel    context.CancelFunc
}

type fakeServer struct {
	*Server
	calls []string
	mu    sync.Mutex
}

func (f *fakeServer) record(name string) func() {
	return func() {
		f.mu.Lock()
		f.calls = append(f.calls, name)
		f.mu.Unlock()
	}
}

func (f *fakeServer) callsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newRig(t *testing.T) *rig {
	t.Helper()
	transport := newFakeTransport()
	q := queue.New(32, nil)
	fs := &fakeServer{}
	fs.Server = NewServer(Config{
		Transport:    transport,
		Instructions: q,
		Log:          logging.New(logging.LevelCritical),
		State:        state.Config{StatePeriod: 10 * time.Millisecond},
		Controls: Controls{
			PSUOn:         fs.record("psu.on"),
			PSUOff:        fs.record("psu.off"),
			PSUSetCurrent: func(ch int) { fs.record("psu.set_current")() },
			InverterOn:    fs.record("inverter.on"),
			InverterOff:   fs.record("inverter.off"),
			ATSEnable:     fs.record("ats.enable"),
			ATSDisable:    fs.record("ats.disable"),
			ProfileSet:    func(key uint8, raw []byte) { fs.record("profile.set")() },
			OTAUpdate:     fs.record("ota.update"),
			PullHistory:   fs.record("pull_history"),
			Reboot:        fs.record("reboot"),
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	return &rig{server: fs, transport: transport, queue: q, cancel: cancel}
}

func (r *rig) waitFor(t *testing.T, call string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, c := range r.server.callsSnapshot() {
			if c == call {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("command %q never executed; calls=%v", call, r.server.callsSnapshot())
}

func TestCommandOpcodesDispatchThroughQueue(t *testing.T) {
	r := newRig(t)
	defer r.cancel()

	cases := []struct {
		payload []byte
		call    string
	}{
		{[]byte{0x01}, "pull_history"},
		{[]byte{0x10}, "psu.on"},
		{[]byte{0x11}, "psu.off"},
		{[]byte{0x12, 0x02}, "psu.set_current"},
		{[]byte{0x20}, "inverter.on"},
		{[]byte{0x21}, "inverter.off"},
		{[]byte{0x30}, "ats.enable"},
		{[]byte{0x31}, "ats.disable"},
		{[]byte{0x40, 0x01, 0x01}, "profile.set"},
		{[]byte{0x50}, "ota.update"},
		{[]byte{0xF0}, "reboot"},
	}
	for _, c := range cases {
		r.server.OnWrite(CommandUUID, c.payload)
		r.waitFor(t, c.call)
	}
}

func TestWriteToOtherUUIDIgnored(t *testing.T) {
	r := newRig(t)
	defer r.cancel()
	r.server.OnWrite(BMSStateUUID, []byte{0x10})
	time.Sleep(20 * time.Millisecond)
	if len(r.server.callsSnapshot()) != 0 {
		t.Fatal("non-command write executed")
	}
}

func TestUnknownOpcodeIgnored(t *testing.T) {
	r := newRig(t)
	defer r.cancel()
	r.server.OnWrite(CommandUUID, []byte{0x99})
	time.Sleep(20 * time.Millisecond)
	if len(r.server.callsSnapshot()) != 0 {
		t.Fatal("unknown opcode executed")
	}
}

func TestRegisteredStateNotifiesOnChange(t *testing.T) {
	r := newRig(t)
	defer r.cancel()

	payload := []byte{0xAA, 0xBB}
	b := state.NewBase(state.Config{Name: "X", Wire: func() []byte { return payload }})
	r.server.Register(PSUStateUUID, b)

	b.Notify()
	if r.transport.count(PSUStateUUID) != 1 {
		t.Fatal("state change not notified on its UUID")
	}
	if got := r.server.ReadState(PSUStateUUID); len(got) != 2 || got[0] != 0xAA {
		t.Fatalf("read-on-request = %v", got)
	}
	if r.server.ReadState(MCUStateUUID) != nil {
		t.Fatal("unregistered read returned data")
	}
}

func TestAdvertisingLifecycle(t *testing.T) {
	r := newRig(t)
	defer r.cancel()

	r.server.OnConnect()
	if r.transport.advertising {
		t.Fatal("still advertising after connect")
	}
	if !r.server.State().Active() {
		t.Fatal("link state not active")
	}

	r.server.OnDisconnect()
	if !r.transport.advertising {
		t.Fatal("advertising not restarted on disconnect")
	}
	if r.server.State().Active() {
		t.Fatal("link state still active")
	}
}

func TestLogForwardingOpcodes(t *testing.T) {
	r := newRig(t)
	defer r.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.server.fwd.run(ctx)

	r.server.OnWrite(CommandUUID, []byte{0x60})
	time.Sleep(20 * time.Millisecond) // let the queue attach the sink

	log := r.server.logSource()
	log.Critical("hello from the powerbox") // the rig logger passes CRITICAL only

	deadline := time.Now().Add(time.Second)
	for r.transport.count(LogUUID) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.transport.count(LogUUID) == 0 {
		t.Fatal("log line not forwarded")
	}

	r.server.OnWrite(CommandUUID, []byte{0x61})
	time.Sleep(20 * time.Millisecond)
	before := r.transport.count(LogUUID)
	log.Critical("after detach")
	time.Sleep(50 * time.Millisecond)
	if r.transport.count(LogUUID) != before {
		t.Fatal("log forwarded after disable")
	}
}
