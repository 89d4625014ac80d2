package ppu

import "testing"

func statMode(p *PPU) byte { return p.CPURead(0xFF41) & 0x03 }

// One visible line walks OAM scan (80 dots), draw (172), H-blank, then
// wraps to the next line's OAM scan with LY incremented.
func TestPPUModeSequenceOneLine(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80)
	if m := statMode(p); m != 2 {
		t.Fatalf("mode after LCD on = %d, want 2", m)
	}
	p.Tick(80)
	if m := statMode(p); m != 3 {
		t.Fatalf("mode at dot 80 = %d, want 3", m)
	}
	p.Tick(172)
	if m := statMode(p); m != 0 {
		t.Fatalf("mode at dot 252 = %d, want 0", m)
	}
	p.Tick(456 - 252)
	if ly := p.CPURead(0xFF44); ly != 1 {
		t.Fatalf("LY = %d, want 1", ly)
	}
	if m := statMode(p); m != 2 {
		t.Fatalf("mode at new line = %d, want 2", m)
	}
}

func TestPPUVBlankAndSTATOnVBlank(t *testing.T) {
	var got []int
	p := New(func(bit int) { got = append(got, bit) })
	p.CPUWrite(0xFF41, 1<<4) // STAT source: VBlank entry
	p.CPUWrite(0xFF40, 0x80)
	p.Tick(144 * 456) // run to the start of LY=144
	vb, st := 0, 0
	for _, b := range got {
		if b == 0 {
			vb++
		} else if b == 1 {
			st++
		}
	}
	if vb == 0 {
		t.Fatal("expected a VBlank IRQ at LY=144")
	}
	if st == 0 {
		t.Fatal("expected a STAT IRQ on VBlank entry when its source bit is set")
	}
}

func TestSTATModeAndLYCCoincidence(t *testing.T) {
	var got []int
	p := New(func(bit int) { got = append(got, bit) })
	p.CPUWrite(0xFF41, (1<<3)|(1<<5)|(1<<6)) // H-blank, OAM and LYC sources
	p.CPUWrite(0xFF45, 2)
	p.CPUWrite(0xFF40, 0x80)
	p.Tick(80 + 172) // into the first line's H-blank
	hblankStats := 0
	for _, b := range got {
		if b == 1 {
			hblankStats++
		}
	}
	if hblankStats == 0 {
		t.Fatal("expected a STAT IRQ on H-blank entry")
	}
	got = got[:0]
	// finish line 0, run line 1, poke into line 2 where LY==LYC
	p.Tick((456 - (80 + 172)) + 456 + 1)
	hasLYC := false
	for _, b := range got {
		if b == 1 {
			hasLYC = true
			break
		}
	}
	if !hasLYC {
		t.Fatal("expected a STAT IRQ when LY reached LYC")
	}
}
