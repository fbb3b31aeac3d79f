// Powerbox host entry point: binds the core to the Linux HAL and supervises
// it. A fatal fault logs, waits and restarts the whole stack, matching the
// device's reboot-on-failure policy.
package main

import (
	"context"
	"os"
	"time"

	"powerbox-go/app"
	"powerbox-go/conf"
	"powerbox-go/hal/hosthal"
	"powerbox-go/logging"
)

const restartDelay = 5 * time.Second

func main() {
	log := logging.New(logging.LevelInfo)
	log.Info("bootstrapping powerbox, firmware", conf.Firmware)

	if err := hosthal.Init(); err != nil {
		log.Critical("HAL init failed:", err)
		os.Exit(1)
	}

	board, err := conf.LoadBoard(conf.BoardFilename)
	if err != nil {
		log.Critical("board file invalid:", err)
		os.Exit(1)
	}

	for {
		if err := runOnce(log, board); err != nil {
			log.Critical("core fault:", err)
		}
		log.Info("restarting in", int(restartDelay/time.Second), "s")
		time.Sleep(restartDelay)
	}
}

func runOnce(log *logging.Logger, board *conf.Board) error {
	ports := hosthal.NewPorts(map[string]string{
		conf.BMSUARTPort:      board.Serial.BMS,
		conf.InverterUARTPort: board.Serial.Inverter,
	})

	a, err := app.New(app.Options{
		Board:   board,
		Pins:    hosthal.Pins{},
		Ports:   ports,
		Temp:    hosthal.Temp{},
		Storage: hosthal.Files{Dir: "."},
		Log:     log,
		Reboot:  func() { os.Exit(0) },
	})
	if err != nil {
		return err
	}
	return a.Run(context.Background())
}
