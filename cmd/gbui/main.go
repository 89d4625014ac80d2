// gbui opens a window and runs a ROM with keyboard input and audio
// pacing. The headless harness lives in cmd/gbcore.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/kallistolabs/gbcore/internal/cart"
	"github.com/kallistolabs/gbcore/internal/console"
)

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb/.gbc)")
	bootPath := flag.String("bootrom", "", "optional boot ROM mapped at 0x0000 until FF50 disables it")
	scale := flag.Int("scale", 3, "window scale")
	title := flag.String("title", "gbui", "window title")
	saveRAM := flag.Bool("save", true, "persist battery RAM to ROM.sav on exit and load on start")
	compat := flag.Bool("color", false, "colorize DMG cartridges with a substitute palette")
	palette := flag.Int("palette", -1, "force a compat palette ID (0-5); -1 picks from the ROM title")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("gbui: --rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	var boot []byte
	if *bootPath != "" {
		boot, err = os.ReadFile(*bootPath)
		if err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
	}

	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("ROM: %q type=%s banks=%d ram=%dB cgb=%v", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes, h.CGBFlag&0x80 != 0)
	}

	cs := console.New(console.Config{CompatColor: *compat, CompatPalette: *palette})
	if len(boot) >= 0x100 {
		cs.SetBootROM(boot)
	}
	if err := cs.LoadCartridge(rom, boot); err != nil {
		log.Fatalf("load cart: %v", err)
	}

	savPath := strings.TrimSuffix(*romPath, filepath.Ext(*romPath)) + ".sav"
	if *saveRAM {
		if data, err := os.ReadFile(savPath); err == nil {
			if cs.LoadBattery(data) {
				log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
			}
		}
	}

	app := newApp(cs, *title, *scale)
	if err := ebiten.RunGame(app); err != nil {
		log.Fatalf("run: %v", err)
	}

	if *saveRAM {
		if data, ok := cs.SaveBattery(); ok {
			if err := os.WriteFile(savPath, data, 0o644); err == nil {
				log.Printf("wrote %s", savPath)
			}
		}
	}
}
