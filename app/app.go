// Package app bootstraps the powerbox core: it constructs every controller,
// registers the coordination fabric and supervises the long-lived tasks.
package app

import (
	"context"

	"powerbox-go/ble"
	"powerbox-go/conf"
	"powerbox-go/display"
	"powerbox-go/drivers/ats"
	"powerbox-go/drivers/bms"
	"powerbox-go/drivers/button"
	"powerbox-go/drivers/inverter"
	"powerbox-go/drivers/mcu"
	"powerbox-go/drivers/psu"
	"powerbox-go/errcode"
	"powerbox-go/hal"
	"powerbox-go/logging"
	"powerbox-go/ota"
	"powerbox-go/profile"
	"powerbox-go/queue"
	"powerbox-go/state"
)

// Options carries the externally-provided collaborators: hardware access,
// the wireless binding, the screen, and the process reboot hook.
type Options struct {
	Board   *conf.Board
	Pins    hal.PinFactory
	Ports   hal.PortFactory
	Temp    hal.TempSensor
	Storage hal.Storage

	Transport ble.Transport  // optional wireless binding
	Screen    display.Screen // optional widget tree
	OTAEngine ota.Engine     // optional update engine

	Log    *logging.Logger
	Reboot func()
}

// App owns every component for the life of the process.
type App struct {
	log *logging.Logger

	Profile      *profile.Store
	Instructions *queue.Instructions

	BMS      *bms.Controller
	Inverter *inverter.Controller
	PSU      *psu.Controller
	ATS      *ats.Controller
	MCU      *mcu.Controller
	OTA      *ota.Updater

	Display *display.Controller
	Server  *ble.Server

	inverterButton *button.Button
	psuButton      *button.Button

	reboot func()
}

// New wires the whole system. Construction order follows the dependency
// graph: profile and queue first, peripheral clients next, surfaces last.
func New(opts Options) (*App, error) {
	log := opts.Log
	board := opts.Board
	if board == nil {
		board = conf.DefaultBoard()
	}

	a := &App{log: log, reboot: opts.Reboot}

	a.Profile = profile.New(opts.Storage, conf.ProfileFilename, log)
	a.Instructions = queue.New(0, log)

	baseState := state.Config{
		StatePeriod:   conf.StatePeriod,
		HistoryPeriod: conf.HistoryPeriod,
		HealthGrace:   conf.HealthGrace,
		ChunkPacing:   conf.HistoryChunkPacing,
	}

	// ---- Peripheral clients ----

	bmsPort, ok := opts.Ports.Port(conf.BMSUARTPort)
	if !ok {
		return nil, errcode.Wrap(errcode.PortFailed, "app.bms", errcode.Code(conf.BMSUARTPort))
	}
	a.BMS = bms.New(bms.Config{
		Port:              bmsPort,
		Log:               log,
		TurnOffMinVoltage: a.Profile.GetFloat(profile.KeyMinCellVoltage, conf.InverterMinCellVoltage),
		TurnOffMaxVoltage: a.Profile.GetFloat(profile.KeyMaxCellVoltage, conf.PSUMaxCellVoltage),
		SelfConsumptionAh: a.Profile.GetFloat(profile.KeyMCUSelfConsumption, 0),
		PersistSelfConsumption: func(ah float32) {
			a.Instructions.Add(func() { _ = a.Profile.Set(profile.KeyMCUSelfConsumption, ah) })
		},
		State: baseState,
	})

	sharedPort, ok := opts.Ports.Port(conf.InverterUARTPort)
	if !ok {
		return nil, errcode.Wrap(errcode.PortFailed, "app.inverter", errcode.Code(conf.InverterUARTPort))
	}

	invGate, err := opts.Pins.Pin(board.Inverter.Gate)
	if err != nil {
		return nil, err
	}
	invFanA, _ := opts.Pins.Pin(board.Inverter.FanA)
	invFanB, _ := opts.Pins.Pin(board.Inverter.FanB)
	a.Inverter = inverter.New(inverter.Config{
		Port:    sharedPort,
		GatePin: invGate,
		FanAPin: invFanA,
		FanBPin: invFanB,
		Log:     log,
		State:   baseState,
	})

	psuGate, err := opts.Pins.Pin(board.PSU.Gate)
	if err != nil {
		return nil, err
	}
	psuCurrentA, err := opts.Pins.Pin(board.PSU.CurrentA)
	if err != nil {
		return nil, err
	}
	psuCurrentB, err := opts.Pins.Pin(board.PSU.CurrentB)
	if err != nil {
		return nil, err
	}
	psuFan, _ := opts.Pins.Pin(board.PSU.Fan)
	a.PSU = psu.New(psu.Config{
		Port:                 sharedPort,
		GatePin:              psuGate,
		CurrentAPin:          psuCurrentA,
		CurrentBPin:          psuCurrentB,
		FanPin:               psuFan,
		Log:                  log,
		State:                baseState,
		ReduceCurrentVoltage: conf.PSUReduceCurrentVoltage,
		Turbo:                a.Profile.GetBool(profile.KeyPSUTurbo, false),
		CurrentChannel:       a.Profile.GetInt(profile.KeyPSUCurrentChannel, psu.ChannelNormal),
		PersistTurbo: func(on bool) {
			a.Instructions.Add(func() { _ = a.Profile.Set(profile.KeyPSUTurbo, on) })
		},
	})

	atsNC, err := opts.Pins.Pin(board.ATS.NC)
	if err != nil {
		return nil, err
	}
	atsNO, err := opts.Pins.Pin(board.ATS.NO)
	if err != nil {
		return nil, err
	}
	a.ATS = ats.New(ats.Config{NCPin: atsNC, NOPin: atsNO, Log: log, State: baseState})

	a.MCU = mcu.New(mcu.Config{Temp: opts.Temp, Log: log, State: baseState})

	a.OTA = ota.New(ota.Config{
		FirmwareURL: "https://releases.powerbox.dev/latest/firmware.json",
		Engine:      opts.OTAEngine,
		Log:         log,
		State:       baseState,
	})
	a.OTA.OnProfileChange(a.Profile)

	// ---- Buttons: external inputs funnel through the instruction queue ----

	if invButtonPin, perr := opts.Pins.Pin(board.Inverter.Button); perr == nil {
		a.inverterButton, _ = button.New(button.Config{
			Pin:       invButtonPin,
			Jitter:    conf.ButtonJitter,
			Delay:     conf.ButtonDelay,
			LongPress: conf.ButtonLongPress,
			OnLong:    func() { a.Instructions.Add(a.Inverter.Toggle) },
			Log:       log,
		})
	}
	if psuButtonPin, perr := opts.Pins.Pin(board.PSU.Button); perr == nil {
		a.psuButton, _ = button.New(button.Config{
			Pin:       psuButtonPin,
			Jitter:    conf.ButtonJitter,
			Delay:     conf.ButtonDelay,
			LongPress: conf.ButtonLongPress,
			OnShort:   func() { a.Instructions.Add(a.PSU.ToggleTurbo) },
			OnLong:    func() { a.Instructions.Add(a.PSU.Toggle) },
			Log:       log,
		})
	}

	// ---- Surfaces ----

	if opts.Screen != nil {
		a.Display = display.New(display.Config{Screen: opts.Screen, Log: log, State: baseState})
		opts.Screen.SetVersion(conf.Firmware)
	}

	if opts.Transport != nil {
		a.Server = ble.NewServer(ble.Config{
			Transport:    opts.Transport,
			Instructions: a.Instructions,
			Log:          log,
			State:        baseState,
			Controls: ble.Controls{
				PSUOn:         a.PSU.On,
				PSUOff:        a.PSU.Off,
				PSUSetCurrent: a.PSU.SetCurrent,
				InverterOn:    a.Inverter.On,
				InverterOff:   a.Inverter.Off,
				ATSEnable: func() {
					a.ATS.Enable()
					_ = a.Profile.Set(profile.KeyATS, true)
				},
				ATSDisable: func() {
					a.ATS.Disable()
					_ = a.Profile.Set(profile.KeyATS, false)
				},
				ProfileSet: func(key uint8, raw []byte) {
					if err := a.Profile.SetRaw(profile.Key(key), raw); err != nil {
						log.Error("profile set failed:", err)
					}
				},
				OTAUpdate:   a.OTA.Update,
				PullHistory: a.pullHistory,
				Reboot:      a.doReboot,
			},
		})
		a.Server.Register(ble.BMSStateUUID, a.BMS.State().Base)
		a.Server.Register(ble.InverterStateUUID, a.Inverter.State().Base)
		a.Server.Register(ble.PSUStateUUID, a.PSU.State().Base)
		a.Server.Register(ble.MCUStateUUID, a.MCU.State().Base)
		a.Server.Register(ble.ATSStateUUID, a.ATS.State().Base)
	}

	a.wireFabric()

	// Apply the persisted ATS preference at boot.
	a.ATS.SetEnabled(a.Profile.GetBool(profile.KeyATS, false))

	return a, nil
}

// wireFabric registers the cross-subsystem reactions. Dispatch is
// synchronous and in registration order; the order below is load-bearing
// (the inverter must release the pack before charge is enabled, and vice
// versa).
func (a *App) wireFabric() {
	bmsState := a.BMS.State()

	bmsState.AddCallback(state.EventBatteryCharged, a.PSU.Off)
	bmsState.AddCallback(state.EventBatteryDischarged, a.Inverter.Off)
	bmsState.AddCallback(state.EventChange, func() { a.PSU.CheckCellThreshold(bmsState) })

	psuState := a.PSU.State()
	psuState.AddCallback(state.EventOn, a.Inverter.Off)
	psuState.AddCallback(state.EventOn, func() { a.BMS.EnableCharge() })
	psuState.AddCallback(state.EventOff, func() { a.BMS.DisableCharge() })

	invState := a.Inverter.State()
	invState.AddCallback(state.EventOn, a.PSU.Off)
	invState.AddCallback(state.EventOn, func() { a.BMS.EnableDischarge() })
	invState.AddCallback(state.EventOff, func() { a.BMS.DisableDischarge() })

	a.Profile.AddCallback(state.EventChange, func() {
		a.OTA.OnProfileChange(a.Profile)
		a.ATS.SetEnabled(a.Profile.GetBool(profile.KeyATS, false))
		a.BMS.SetThresholds(
			a.Profile.GetFloat(profile.KeyMinCellVoltage, 0),
			a.Profile.GetFloat(profile.KeyMaxCellVoltage, 0),
		)
	})

	if a.Display != nil {
		bmsState.AddCallback(state.EventChange, a.Display.OnBMSState(bmsState))
		psuState.AddCallback(state.EventChange, a.Display.OnPSUState(psuState))
		invState.AddCallback(state.EventChange, a.Display.OnInverterState(invState))
		a.ATS.State().AddCallback(state.EventChange, a.Display.OnATSState(a.ATS.State()))
		a.MCU.State().AddCallback(state.EventChange, a.Display.OnMCUState(a.MCU.State()))

		psuState.AddCallback(state.EventOn, a.Display.ShowPSU(true))
		psuState.AddCallback(state.EventOff, a.Display.ShowPSU(false))
		invState.AddCallback(state.EventOn, a.Display.ShowInverter(true))
		invState.AddCallback(state.EventOff, a.Display.ShowInverter(false))

		if a.Server != nil {
			a.Server.State().AddCallback(state.EventChange, a.Display.OnBLEState(a.Server.State()))
		}
	}
}

func (a *App) pullHistory() {
	a.BMS.State().PullHistory()
	a.Inverter.State().PullHistory()
	a.PSU.State().PullHistory()
}

func (a *App) doReboot() {
	a.log.Critical("reboot requested")
	if a.reboot != nil {
		a.reboot()
	}
}

// Run launches every task and blocks until the context ends or a task
// crashes. A crash is fatal for the whole process; the caller reboots.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	launch := func(name string, fn func(context.Context)) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Critical("task crashed:", name)
					select {
					case fatal <- &errcode.E{C: errcode.Error, Op: name, Msg: "task crashed"}:
					default:
					}
				}
			}()
			fn(ctx)
		}()
	}

	launch("instructions", a.Instructions.Run)
	launch("ats", a.ATS.Run)
	launch("bms", a.BMS.Run)
	launch("inverter", a.Inverter.Run)
	launch("psu", a.PSU.Run)
	launch("mcu", a.MCU.Run)
	if a.Display != nil {
		launch("display", a.Display.Run)
	}
	if a.Server != nil {
		launch("ble", a.Server.Run)
	}

	a.log.Info("powerbox core running, firmware", conf.Firmware)

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}
