package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kallistolabs/gbcore/internal/cpu"
	"github.com/kallistolabs/gbcore/internal/mmu"
)

type blarggFlags struct {
	romPath      string
	bootPath     string
	steps        int
	startPC      int
	trace        bool
	until        string
	auto         bool
	timeout      time.Duration
	traceOnFail  bool
	traceWindow  int
	serialWindow int
}

type serialSink func(p []byte) (int, error)

func (f serialSink) Write(p []byte) (int, error) { return f(p) }

func newBlarggCmd() *cobra.Command {
	var f blarggFlags
	cmd := &cobra.Command{
		Use:   "blargg --rom path",
		Short: "Run a serial-output test ROM (Blargg-style) headlessly and watch for pass/fail markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlargg(f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.romPath, "rom", "", "path to ROM (.gb)")
	flags.StringVar(&f.bootPath, "bootrom", "", "optional DMG boot ROM to run from 0x0000 until FF50 disables it")
	flags.IntVar(&f.steps, "steps", 5_000_000, "max CPU steps to run")
	flags.IntVar(&f.startPC, "pc", 0x0100, "initial PC value (ignored when a boot ROM is given)")
	flags.BoolVar(&f.trace, "trace", false, "print PC/opcode trace")
	flags.StringVar(&f.until, "until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	flags.BoolVar(&f.auto, "auto", false, "auto-detect 'Passed' or 'Failed N tests' in serial output and exit 0/1")
	flags.DurationVar(&f.timeout, "timeout", 0, "optional wall-clock timeout (e.g. 30s); 0 disables")
	flags.BoolVar(&f.traceOnFail, "trace-on-fail", false, "when --auto detects failure, print a recent trace window")
	flags.IntVar(&f.traceWindow, "trace-window", 200, "number of recent instructions kept for --trace-on-fail")
	flags.IntVar(&f.serialWindow, "serial-window", 8192, "number of recent serial bytes retained for diagnostics on fail")
	cmd.MarkFlagRequired("rom")
	return cmd
}

type traceEntry struct {
	pc                     uint16
	op                     byte
	cyc                    int
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
	ifreg                  byte
	ie                     byte
}

func runBlargg(f blarggFlags) error {
	rom, err := os.ReadFile(f.romPath)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	var boot []byte
	if f.bootPath != "" {
		boot, err = os.ReadFile(f.bootPath)
		if err != nil {
			return fmt.Errorf("read bootrom: %w", err)
		}
	}

	b := mmu.New(rom)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}

	var ser bytes.Buffer
	serialWindow := f.serialWindow
	if serialWindow < 256 {
		serialWindow = 256
	}
	serRing := make([]byte, serialWindow)
	serRingIdx, serRingFill := 0, 0

	var w io.Writer = os.Stdout
	if f.until != "" || f.auto {
		w = io.MultiWriter(os.Stdout, &ser, serialSink(func(p []byte) (int, error) {
			for _, ch := range p {
				serRing[serRingIdx] = ch
				serRingIdx = (serRingIdx + 1) % serialWindow
				if serRingFill < serialWindow {
					serRingFill++
				}
			}
			return len(p), nil
		}))
	}
	b.SetSerialWriter(w)

	c := cpu.New(b)
	if len(boot) >= 0x100 {
		c.SP = 0xFFFE
		c.PC = 0x0000
		c.IME = false
	} else {
		c.ResetNoBoot()
		c.SetPC(uint16(f.startPC))
		writeDMGPostBootIO(b)
	}

	start := time.Now()
	var deadline time.Time
	if f.timeout > 0 {
		deadline = start.Add(f.timeout)
	}
	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	stageRe := regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
	lastStage := ""

	ring := make([]traceEntry, f.traceWindow)
	ringIdx, ringFill := 0, 0
	var cycles int

	done := func(status int, steps int) {
		fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", steps, cycles, time.Since(start).Truncate(time.Millisecond))
		if status != 0 {
			os.Exit(status)
		}
	}

	for i := 0; i < f.steps; i++ {
		pc := c.PC
		var op byte
		if f.trace || f.traceOnFail {
			op = b.Read(pc)
		}
		cyc := c.Step()
		cycles += cyc
		if fatal := c.Fatal(); fatal != nil {
			fmt.Printf("\nCPU halted on illegal opcode: %v\n", fatal)
			done(3, i+1)
			return nil
		}
		if f.trace || f.traceOnFail {
			te := traceEntry{pc: pc, op: op, cyc: cyc,
				a: c.A, f: c.F, b: c.B, c: c.C, d: c.D, e: c.E, h: c.H, l: c.L,
				sp: c.SP, ime: c.IME, ifreg: b.Read(0xFF0F), ie: b.Read(0xFFFF),
			}
			if f.trace {
				printTrace(te)
			}
			if f.traceOnFail && f.traceWindow > 0 {
				ring[ringIdx] = te
				ringIdx = (ringIdx + 1) % f.traceWindow
				if ringFill < f.traceWindow {
					ringFill++
				}
			}
		}

		if f.auto {
			s := ser.String()
			if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
				lastStage = mm[len(mm)-1]
			}
			if strings.Contains(strings.ToLower(s), "passed") {
				fmt.Printf("\nDetected PASS in serial output.\n")
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				done(0, i+1)
				return nil
			}
			if m := failRe.FindStringSubmatch(s); m != nil {
				fmt.Printf("\nDetected %s in serial output.\n", m[0])
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				if f.traceOnFail && ringFill > 0 {
					printTraceRing(ring, ringIdx, ringFill, f.traceWindow)
				}
				if serRingFill > 0 {
					printSerialRing(serRing, serRingIdx, serRingFill, serialWindow)
				}
				done(1, i+1)
				return nil
			}
		} else if f.until != "" {
			if strings.Contains(strings.ToLower(ser.String()), strings.ToLower(f.until)) {
				fmt.Printf("\nDetected %q in serial output.\n", f.until)
				done(0, i+1)
				return nil
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			done(2, i+1)
			return nil
		}
	}
	done(0, f.steps)
	return nil
}

// writeDMGPostBootIO seeds the IO registers a real boot ROM would have left
// behind, for runs that skip straight to 0x0100 without one.
func writeDMGPostBootIO(b *mmu.MMU) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0x00) // TAC
	b.Write(0xFF40, 0x91) // LCDC on with BG, 0x8000 tile data, sprites off
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
}

func printTrace(te traceEntry) {
	fmt.Printf("PC=%04X OP=%02X cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X\n",
		te.pc, te.op, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
}

func printTraceRing(ring []traceEntry, idx, fill, window int) {
	fmt.Printf("\n--- recent trace (last %d instructions) ---\n", fill)
	startIdx := (idx - fill + window) % window
	for j := 0; j < fill; j++ {
		printTrace(ring[(startIdx+j)%window])
	}
	fmt.Printf("--- end trace ---\n")
}

func printSerialRing(ring []byte, idx, fill, window int) {
	fmt.Printf("\n--- recent serial (last %d bytes) ---\n", fill)
	start := (idx - fill + window) % window
	for j := 0; j < fill; j++ {
		fmt.Printf("%c", ring[(start+j)%window])
	}
	fmt.Printf("\n--- end serial ---\n")
}
