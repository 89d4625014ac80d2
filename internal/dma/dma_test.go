package dma

import "testing"

type fakeBus struct {
	mem [0x10000]byte
}

func (f *fakeBus) ReadBus(addr uint16) byte { return f.mem[addr] }

type fakeOAM struct {
	bytes [0xA0]byte
}

func (f *fakeOAM) WriteOAMByte(index int, value byte) { f.bytes[index] = value }

type fakeVRAM struct {
	bytes [0x2000]byte
}

func (f *fakeVRAM) WriteVRAMByte(addr uint16, value byte) { f.bytes[addr-0x8000] = value }

func TestEngine_OAMDMACopiesImmediatelyThenStealsCycles(t *testing.T) {
	bus := &fakeBus{}
	for i := 0; i < oamBytes; i++ {
		bus.mem[0xC000+i] = byte(0x10 + i)
	}
	oam := &fakeOAM{}
	e := New()

	e.StartOAM(0xC0, bus, oam)
	for i := 0; i < oamBytes; i++ {
		if oam.bytes[i] != byte(0x10+i) {
			t.Fatalf("OAM byte %d = %#02x, want %#02x", i, oam.bytes[i], byte(0x10+i))
		}
	}
	if !e.OAMActive() {
		t.Fatal("expected OAM DMA busy window to be active right after start")
	}

	stolen := e.Step(oamTCycles - 1)
	if stolen != oamTCycles-1 || !e.OAMActive() {
		t.Fatalf("mid-window: stolen=%d active=%v", stolen, e.OAMActive())
	}
	stolen = e.Step(1)
	if stolen != 1 || e.OAMActive() {
		t.Fatalf("window should close exactly at %d cycles: stolen=%d active=%v", oamTCycles, stolen, e.OAMActive())
	}
}

func TestEngine_GeneralPurposeHDMATransfersImmediately(t *testing.T) {
	bus := &fakeBus{}
	for i := 0; i < 32; i++ {
		bus.mem[0x4000+i] = byte(0x80 + i)
	}
	vram := &fakeVRAM{}
	e := New()

	e.WriteHDMARegister(0xFF51, 0x40, bus, vram) // src hi
	e.WriteHDMARegister(0xFF52, 0x00, bus, vram) // src lo
	e.WriteHDMARegister(0xFF53, 0x00, bus, vram) // dst hi (within VRAM window)
	e.WriteHDMARegister(0xFF54, 0x00, bus, vram) // dst lo
	e.WriteHDMARegister(0xFF55, 0x01, bus, vram) // length=2 blocks, bit7=0 -> general mode

	for i := 0; i < 32; i++ {
		if vram.bytes[i] != byte(0x80+i) {
			t.Fatalf("vram byte %d = %#02x, want %#02x", i, vram.bytes[i], byte(0x80+i))
		}
	}
	if got := e.ReadHDMARegister(0xFF55); got != 0xFF {
		t.Fatalf("FF55 after completed general transfer = %#02x, want 0xFF (inactive)", got)
	}
}

func TestEngine_HBlankHDMADrainsOneBlockPerCall(t *testing.T) {
	bus := &fakeBus{}
	for i := 0; i < 32; i++ {
		bus.mem[0x5000+i] = byte(i + 1)
	}
	vram := &fakeVRAM{}
	e := New()

	e.WriteHDMARegister(0xFF51, 0x50, bus, vram)
	e.WriteHDMARegister(0xFF52, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF53, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF54, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF55, 0x81, bus, vram) // bit7=1 -> H-blank mode, 2 blocks

	if got := e.ReadHDMARegister(0xFF55); got != 0x01 {
		t.Fatalf("FF55 before any H-blank = %#02x, want 0x01 (2 blocks left)", got)
	}
	for i := 0; i < 16; i++ {
		if vram.bytes[i] != 0 {
			t.Fatal("H-blank transfer copied data before any H-blank occurred")
		}
	}

	e.StepHBlank(bus, vram)
	for i := 0; i < 16; i++ {
		if vram.bytes[i] != byte(i+1) {
			t.Fatalf("block 1 byte %d = %#02x, want %#02x", i, vram.bytes[i], byte(i+1))
		}
	}
	if e.ReadHDMARegister(0xFF55) == 0xFF {
		t.Fatal("transfer should still be active after one of two blocks")
	}

	e.StepHBlank(bus, vram)
	for i := 16; i < 32; i++ {
		if vram.bytes[i] != byte(i+1) {
			t.Fatalf("block 2 byte %d = %#02x, want %#02x", i, vram.bytes[i], byte(i+1))
		}
	}
	if got := e.ReadHDMARegister(0xFF55); got != 0xFF {
		t.Fatalf("FF55 after final block = %#02x, want 0xFF", got)
	}
}

func TestEngine_AbortingHBlankTransferStopsFurtherBlocks(t *testing.T) {
	bus := &fakeBus{}
	for i := range bus.mem {
		bus.mem[i] = 0xAA
	}
	vram := &fakeVRAM{}
	e := New()

	e.WriteHDMARegister(0xFF51, 0x60, bus, vram)
	e.WriteHDMARegister(0xFF52, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF53, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF54, 0x00, bus, vram)
	e.WriteHDMARegister(0xFF55, 0x83, bus, vram) // 4 blocks, H-blank mode

	e.StepHBlank(bus, vram) // copy block 1
	e.WriteHDMARegister(0xFF55, 0x00, bus, vram) // bit7=0 while active: abort

	for i := range vram.bytes[16:] {
		if vram.bytes[16+i] != 0 {
			t.Fatal("abort did not stop remaining block transfers")
		}
	}
	if e.ReadHDMARegister(0xFF55) != 0xFF {
		t.Fatal("transfer should be inactive after an abort")
	}
}
