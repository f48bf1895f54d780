//go:build tinygo

package main

import (
	"context"

	"bedrock/app"
	"bedrock/arena"
	"bedrock/hal"
)

// boardLayout fits the arena in the RP2350's SRAM.
var boardLayout = arena.Layout{DataWords: 1024, StackWords: 256, Threads: 8}

func main() {
	h := hal.New()
	log := h.Logger()

	threads, err := app.ParseScenario(app.DefaultScenario)
	if err == nil {
		err = app.Run(context.Background(), h, app.Config{Layout: boardLayout, Threads: threads})
	}
	if err != nil {
		log.WriteLineString("bedrock: " + err.Error())
	} else {
		log.WriteLineString("bedrock: halted")
	}
	select {}
}
