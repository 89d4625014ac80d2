package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kallistolabs/gbcore/internal/cart"
	"github.com/kallistolabs/gbcore/internal/console"
)

type runFlags struct {
	romPath string
	boot    string
	saveRAM bool
	compat  bool
	palette int

	frames int
	pngOut string
	expect string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run --rom path",
		Short: "Run a ROM headlessly for a number of frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.romPath, "rom", "", "path to ROM (.gb/.gbc)")
	flags.StringVar(&f.boot, "bootrom", "", "optional boot ROM to run from 0x0000 until FF50 disables it")
	flags.BoolVar(&f.saveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")
	flags.BoolVar(&f.compat, "color", false, "colorize DMG cartridges with a substitute palette")
	flags.IntVar(&f.palette, "palette", -1, "force a compat palette ID (0-5); -1 picks from the ROM title")
	flags.IntVar(&f.frames, "frames", 300, "frames to run")
	flags.StringVar(&f.pngOut, "outpng", "", "write the last framebuffer to a PNG at this path")
	flags.StringVar(&f.expect, "expect", "", "assert the framebuffer CRC32 (hex)")
	cmd.MarkFlagRequired("rom")
	return cmd
}

func runConsole(f runFlags) error {
	rom, err := os.ReadFile(f.romPath)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	var boot []byte
	if f.boot != "" {
		boot, err = os.ReadFile(f.boot)
		if err != nil {
			return fmt.Errorf("read bootrom: %w", err)
		}
	}

	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("ROM: %q type=%s banks=%d ram=%dB cgb=%v", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes, h.CGBFlag&0x80 != 0)
	}

	cs := console.New(console.Config{CompatColor: f.compat, CompatPalette: f.palette})
	if len(boot) >= 0x100 {
		cs.SetBootROM(boot)
	}
	if err := cs.LoadCartridge(rom, boot); err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	var savPath string
	if f.saveRAM {
		savPath = strings.TrimSuffix(f.romPath, filepath.Ext(f.romPath)) + ".sav"
		if data, err := os.ReadFile(savPath); err == nil {
			if cs.LoadBattery(data) {
				log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
			}
		}
	}

	if err := runHeadless(cs, f.frames, f.pngOut, f.expect); err != nil {
		return err
	}

	if f.saveRAM && savPath != "" {
		if data, ok := cs.SaveBattery(); ok {
			if err := os.WriteFile(savPath, data, 0o644); err == nil {
				log.Printf("wrote %s", savPath)
			}
		}
	}
	return nil
}

func runHeadless(cs *console.Console, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		cs.StepFrame()
		if fatal := cs.Fatal(); fatal != nil {
			return fmt.Errorf("cpu locked after %d frames: %w", i+1, fatal)
		}
	}
	dur := time.Since(start)

	fb := cs.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x", frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}
	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
