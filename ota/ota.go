// Package ota holds the firmware-update hook surface. The download and A/B
// partition switch live outside the core; this package tracks status and
// hands the engine its parameters.
package ota

import (
	"sync"

	"powerbox-go/logging"
	"powerbox-go/profile"
	"powerbox-go/state"
)

type Status uint8

const (
	StatusIdle Status = iota
	StatusPreparing
	StatusDownloading
	StatusUpdating
	StatusError
	StatusFinished
)

// Engine performs the actual transfer; supplied from outside the core.
type Engine interface {
	StartUpdate(url, ssid, password string) error
}

type Config struct {
	FirmwareURL string
	Engine      Engine
	Log         *logging.Logger
	State       state.Config
}

type Updater struct {
	*state.Base

	log    *logging.Logger
	engine Engine
	url    string

	mu       sync.Mutex
	status   Status
	ssid     string
	password string
}

func New(cfg Config) *Updater {
	st := cfg.State
	st.Name = "OTA"
	st.Log = cfg.Log
	return &Updater{
		Base:   state.NewBase(st),
		log:    cfg.Log,
		engine: cfg.Engine,
		url:    cfg.FirmwareURL,
	}
}

func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *Updater) setStatus(s Status) {
	u.mu.Lock()
	u.status = s
	u.mu.Unlock()
	u.Notify()
}

// OnProfileChange refreshes the wireless credentials the engine will use.
func (u *Updater) OnProfileChange(p *profile.Store) {
	u.mu.Lock()
	u.ssid = p.GetString(profile.KeyWifiSSID, "")
	u.password = p.GetString(profile.KeyWifiPassword, "")
	u.mu.Unlock()
}

// Update kicks the engine. Without credentials or an engine it is a no-op
// beyond a status report.
func (u *Updater) Update() {
	u.mu.Lock()
	ssid, password := u.ssid, u.password
	u.mu.Unlock()

	if u.engine == nil || ssid == "" {
		u.log.Warning("OTA update requested without engine or credentials")
		u.setStatus(StatusError)
		return
	}
	u.log.Info("starting OTA update")
	u.setStatus(StatusPreparing)
	if err := u.engine.StartUpdate(u.url, ssid, password); err != nil {
		u.log.Error("OTA update failed:", err)
		u.setStatus(StatusError)
		return
	}
	u.setStatus(StatusFinished)
}
