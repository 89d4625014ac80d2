// Package console wires the CPU, MMU, PPU and APU into a single
// steppable Console: the top-level object cmd/gbcore and cmd/gbui drive
// tick by tick or frame by frame.
package console

import (
	"io"
	"os"

	"github.com/kallistolabs/gbcore/internal/cart"
	"github.com/kallistolabs/gbcore/internal/cpu"
	"github.com/kallistolabs/gbcore/internal/mmu"
)

// Buttons is the joypad state for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= mmu.JoypRight
	}
	if b.Left {
		m |= mmu.JoypLeft
	}
	if b.Up {
		m |= mmu.JoypUp
	}
	if b.Down {
		m |= mmu.JoypDown
	}
	if b.A {
		m |= mmu.JoypA
	}
	if b.B {
		m |= mmu.JoypB
	}
	if b.Select {
		m |= mmu.JoypSelectBtn
	}
	if b.Start {
		m |= mmu.JoypStart
	}
	return m
}

// cgbCompatSetNames and cgbCompatSets describe the small curated set of
// DMG-palette substitutes used when colorizing an original (non-color)
// cartridge, indexed by the IDs compat_tables.go hands back.
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Mono"}

var cgbCompatSets = [][4][3]byte{
	{{0x9B, 0xBC, 0x0F}, {0x8B, 0xAC, 0x0F}, {0x30, 0x62, 0x30}, {0x0F, 0x38, 0x0F}}, // Green
	{{0xE8, 0xD8, 0xB0}, {0xC8, 0xA8, 0x78}, {0x88, 0x68, 0x48}, {0x38, 0x28, 0x18}}, // Sepia
	{{0xD0, 0xE8, 0xFF}, {0x80, 0xA8, 0xE0}, {0x40, 0x60, 0xA0}, {0x10, 0x18, 0x40}}, // Blue
	{{0xFF, 0xE0, 0xE0}, {0xE0, 0x90, 0x90}, {0xA0, 0x40, 0x40}, {0x40, 0x10, 0x10}}, // Red
	{{0xF8, 0xE8, 0xF8}, {0xD0, 0xB8, 0xD8}, {0x98, 0x80, 0xA0}, {0x50, 0x40, 0x58}}, // Pastel
	{{0xFF, 0xFF, 0xFF}, {0xAA, 0xAA, 0xAA}, {0x55, 0x55, 0x55}, {0x00, 0x00, 0x00}}, // Mono
}

// Console is the top-level object: a CPU bound to an MMU that itself
// owns the PPU, APU, timer and DMA engine.
type Console struct {
	cfg Config

	m       *mmu.MMU
	c       *cpu.CPU
	bootROM []byte
	header  *cart.Header
	romPath string

	serial io.Writer

	isCGBCompat bool // DMG cart that the host may colorize
	compatOn    bool
	compatID    int
}

// New constructs an unloaded Console; call LoadCartridge before stepping.
func New(cfg Config) *Console {
	return &Console{cfg: cfg}
}

// SetBootROM stages a DMG boot ROM image to be attached on the next LoadCartridge.
func (cs *Console) SetBootROM(data []byte) {
	cs.bootROM = append([]byte(nil), data...)
}

// LoadCartridge parses rom's header, builds the matching cartridge/MBC,
// and wires a fresh MMU + CPU around it. boot, if non-empty, is mapped
// at 0x0000-0x00FF until the cartridge's own code disables it via 0xFF50.
func (cs *Console) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	if !h.ChecksumOK {
		return &cart.LoadError{Reason: "bad header checksum"}
	}
	c, _, err := cart.New(rom)
	if err != nil {
		return err
	}
	cs.header = h
	cs.m = mmu.NewWithCartridge(c)
	cs.isCGBCompat = !cs.m.CGB()
	cs.compatOn = cs.cfg.CompatColor && cs.isCGBCompat
	if id, ok := autoCompatPaletteFromHeader(h); ok {
		cs.compatID = id
	}
	if cs.cfg.CompatPalette >= 0 && cs.cfg.CompatPalette < len(cgbCompatSets) {
		cs.compatID = cs.cfg.CompatPalette
	}
	cs.applyCompatShades()

	if len(boot) > 0 {
		cs.bootROM = append([]byte(nil), boot...)
	}
	cs.c = cpu.New(cs.m)
	if len(cs.bootROM) > 0 {
		cs.m.SetBootROM(cs.bootROM)
	} else {
		cs.Reset()
	}
	if cs.serial != nil {
		cs.m.SetSerialWriter(cs.serial)
	}
	return nil
}

// Reset puts the CPU and I/O registers into the canonical post-boot
// state and points PC at the cartridge entry, without touching the
// loaded cartridge. With a staged boot ROM, use ResetWithBoot instead.
func (cs *Console) Reset() {
	if cs.c == nil {
		return
	}
	cs.c.ResetNoBoot()
	cs.c.SetPC(0x0100)
	cs.writeDefaultIO()
}

// ResetWithBoot resets by jumping back through the staged boot ROM.
func (cs *Console) ResetWithBoot() {
	if cs.c == nil || len(cs.bootROM) == 0 {
		cs.Reset()
		return
	}
	cs.m.SetBootROM(cs.bootROM)
	cs.c = cpu.New(cs.m)
	if cs.serial != nil {
		cs.m.SetSerialWriter(cs.serial)
	}
}

// writeDefaultIO primes the IO register file to its typical post-boot
// values, matching what the real boot ROM leaves behind, for the
// no-boot-ROM fast path.
func (cs *Console) writeDefaultIO() {
	w := cs.m.Write
	w(0xFF00, 0xCF)
	w(0xFF05, 0x00)
	w(0xFF06, 0x00)
	w(0xFF07, 0x00)
	// NR52 first: APU register writes are dropped while power is off.
	w(0xFF26, 0xF1)
	w(0xFF10, 0x80)
	w(0xFF11, 0xBF)
	w(0xFF12, 0xF3)
	w(0xFF14, 0xBF)
	w(0xFF16, 0x3F)
	w(0xFF17, 0x00)
	w(0xFF19, 0xBF)
	w(0xFF1A, 0x7F)
	w(0xFF1B, 0xFF)
	w(0xFF1C, 0x9F)
	w(0xFF1E, 0xFF)
	w(0xFF20, 0xFF)
	w(0xFF21, 0x00)
	w(0xFF22, 0x00)
	w(0xFF23, 0xBF)
	w(0xFF24, 0x77)
	w(0xFF25, 0xF3)
	w(0xFF40, 0x91)
	w(0xFF42, 0x00)
	w(0xFF43, 0x00)
	w(0xFF45, 0x00)
	w(0xFF47, 0xFC)
	w(0xFF48, 0xFF)
	w(0xFF49, 0xFF)
	w(0xFF4A, 0x00)
	w(0xFF4B, 0x00)
	w(0xFFFF, 0x00)
}

// IsCGBCompat reports whether the loaded cartridge is a DMG-only title
// that can still be recolored via the compatibility palette table.
func (cs *Console) IsCGBCompat() bool { return cs.isCGBCompat }

// SetCompatColor toggles colorized DMG output for compatible cartridges.
func (cs *Console) SetCompatColor(on bool) {
	cs.compatOn = on && cs.isCGBCompat
	cs.applyCompatShades()
}

// CompatColor reports whether colorized DMG output is active.
func (cs *Console) CompatColor() bool { return cs.compatOn }

// CurrentCompatPalette returns the active compatibility palette ID.
func (cs *Console) CurrentCompatPalette() int { return cs.compatID }

// SetCompatPalette selects a compatibility palette by ID, clamped to
// the available set.
func (cs *Console) SetCompatPalette(id int) {
	if id < 0 {
		id = 0
	}
	if id >= len(cgbCompatSets) {
		id = len(cgbCompatSets) - 1
	}
	cs.compatID = id
	cs.applyCompatShades()
}

// CycleCompatPalette advances the compatibility palette by delta,
// wrapping around the available set.
func (cs *Console) CycleCompatPalette(delta int) {
	n := len(cgbCompatSets)
	cs.compatID = ((cs.compatID+delta)%n + n) % n
	cs.applyCompatShades()
}

// CompatPaletteName returns the human-readable name for palette id.
func (cs *Console) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return "Unknown"
	}
	return cgbCompatSetNames[id]
}

func (cs *Console) applyCompatShades() {
	if cs.m == nil {
		return
	}
	if cs.compatOn {
		cs.m.PPU().SetDMGShades(cgbCompatSets[cs.compatID])
	} else {
		cs.m.PPU().SetDMGShades(cgbCompatSets[len(cgbCompatSets)-1]) // Mono
	}
}

// SetSerialWriter attaches a sink for serial-port bytes; useful for
// Blargg-style test ROMs that report pass/fail over the link cable.
func (cs *Console) SetSerialWriter(w io.Writer) {
	cs.serial = w
	if cs.m != nil {
		cs.m.SetSerialWriter(w)
	}
}

// SetButtons updates which joypad buttons are currently pressed.
func (cs *Console) SetButtons(b Buttons) {
	if cs.m != nil {
		cs.m.SetJoypadState(b.mask())
	}
}

// Framebuffer returns the current RGBA pixel buffer.
func (cs *Console) Framebuffer() []byte {
	if cs.m == nil {
		return make([]byte, 160*144*4)
	}
	return cs.m.PPU().Framebuffer()
}

// Fatal returns the illegal-opcode error that locked the CPU, or nil.
func (cs *Console) Fatal() *cpu.FatalError {
	if cs.c == nil {
		return nil
	}
	return cs.c.Fatal()
}

// MMU exposes the memory unit for tests and debug tooling.
func (cs *Console) MMU() *mmu.MMU { return cs.m }

// ROMPath returns the path a ROM was loaded from via LoadROMFromFile.
func (cs *Console) ROMPath() string { return cs.romPath }

// LoadROMFromFile reads and loads a ROM file from disk, tracking its
// path for the companion .sav sidecar file.
func (cs *Console) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := cs.LoadCartridge(data, cs.bootROM); err != nil {
		return err
	}
	cs.romPath = path
	return nil
}

// ROMTitle returns the cartridge title from its header, or "" if unloaded.
func (cs *Console) ROMTitle() string {
	if cs.header == nil {
		return ""
	}
	return cs.header.Title
}

// LoadBattery restores battery-backed RAM (and, for MBC3, RTC state)
// from a previously-saved .sav image. Returns false if the cartridge
// has no battery-backed RAM to restore.
func (cs *Console) LoadBattery(data []byte) bool {
	if cs.m == nil {
		return false
	}
	bb, ok := cs.m.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery serializes battery-backed RAM for persistence. ok is
// false if the cartridge has no battery-backed RAM.
func (cs *Console) SaveBattery() ([]byte, bool) {
	if cs.m == nil {
		return nil, false
	}
	bb, ok := cs.m.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

const cyclesPerFrame = 70224

// StepFrame runs the console for one video frame (70224 T-cycles at
// normal speed; double speed halves wall-clock time per emulated
// frame, not the cycle budget, since the PPU's dot clock is fixed),
// rendering into Framebuffer.
func (cs *Console) StepFrame() {
	cs.ExecuteTicks(cyclesPerFrame)
}

// StepFrameNoRender runs one frame's worth of cycles without any
// special handling for presentation; identical to StepFrame in this
// implementation (rendering is driven by the PPU itself as scanlines
// complete, not gated by a caller-visible "render" flag), kept as a
// distinct entry point for callers (notably the Blargg harness) that
// want to make the intent explicit.
func (cs *Console) StepFrameNoRender() {
	cs.ExecuteTicks(cyclesPerFrame)
}

// ExecuteTicks advances emulation until at least budget T-cycles (at
// normal speed) have been consumed, stopping early only if the CPU hit
// an illegal opcode. It returns the T-cycles actually consumed.
func (cs *Console) ExecuteTicks(budget int) int {
	if cs.c == nil {
		return 0
	}
	speed := 1
	if cs.m.DoubleSpeed() {
		speed = 2
	}
	target := budget * speed
	done := 0
	for done < target {
		if cs.c.Fatal() != nil {
			break
		}
		done += cs.c.Step()
	}
	return done / speed
}

// --- Audio ---

// APUBufferedStereo reports how many buffered stereo sample pairs are
// currently queued for playback.
func (cs *Console) APUBufferedStereo() int {
	if cs.m == nil {
		return 0
	}
	return cs.m.APU().StereoAvailable()
}

// APUPullStereo drains up to n buffered stereo sample pairs, interleaved L,R,L,R,...
func (cs *Console) APUPullStereo(n int) []int16 {
	if cs.m == nil {
		return nil
	}
	return cs.m.APU().PullStereo(n)
}
