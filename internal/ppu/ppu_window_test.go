package ppu

import "testing"

// advanceLines ticks the PPU forward by n full lines (456 dots each).
func advanceLines(p *PPU, n int) { p.Tick(456 * n) }

// The internal window line counter starts at 0 on the first line the
// window is visible (LY==WY) and counts window lines, not screen lines.
func TestWindowActivationAndCounter(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x01|0x20) // LCD + BG + window
	p.CPUWrite(0xFF4A, 10)             // WY
	p.CPUWrite(0xFF4B, 7)              // WX=7 puts the window at x=0

	advanceLines(p, 10)
	if ly := p.CPURead(0xFF44); ly != 10 {
		t.Fatalf("LY = %d, want 10", ly)
	}
	p.Tick(80 + 172) // reach the line's H-blank, where it is rendered
	if lr := p.LineRegs(10); lr.WinLine != 0 {
		t.Fatalf("WinLine at WY = %d, want 0", lr.WinLine)
	}
	advanceLines(p, 1)
	p.Tick(80)
	if lr := p.LineRegs(11); lr.WinLine != 1 {
		t.Fatalf("WinLine at WY+1 = %d, want 1", lr.WinLine)
	}
}

func TestWindowNotVisibleWhenWXTooLarge(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x01|0x20)
	p.CPUWrite(0xFF4A, 5)
	p.CPUWrite(0xFF4B, 200) // WX past the right edge: never visible
	advanceLines(p, 8)
	for y := 5; y <= 12; y++ {
		if p.LineRegs(y).WinLine != 0 {
			t.Fatalf("WinLine at y=%d = %d, want 0 while WX>166", y, p.LineRegs(y).WinLine)
		}
	}
}
