package cart

import "testing"

func TestMBC3_ROMBankZeroRemap(t *testing.T) {
	rom := make([]byte, 0x4000*4)
	rom[0x4000] = 0xAA // bank 1, offset 0
	m := NewMBC3(rom, 0, DMG)

	m.Write(0x2000, 0x00) // bank 0 remaps to 1
	if got := m.Read(0x4000); got != 0xAA {
		t.Fatalf("bank 0 write did not remap to bank 1: got %#02x", got)
	}
}

func TestMBC3_RAMGatedByEnable(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, DMG)

	m.Write(0xA000, 0x42) // RAM disabled, write dropped
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %#02x want 0xFF", got)
	}

	m.Write(0x0000, 0x0A) // enable
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("enabled RAM got %#02x want 0x42", got)
	}
}

func TestMBC3_RTCLatchSnapshotsLiveCounters(t *testing.T) {
	restore := freezeClock(t, 100)
	defer restore()

	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, DMG)
	m.Write(0x0000, 0x0A)

	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = 5, 6, 7, 0x101

	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01) // 0->1 edge latches the snapshot

	m.Write(0x4000, 0x08) // select seconds
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched seconds = %d, want 5", got)
	}

	m.rtcSec = 30 // mutate live register after the latch
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched seconds changed after live mutation: got %d", got)
	}

	m.Write(0x4000, 0x0B) // day low
	if got := m.Read(0xA000); got != 0x01 {
		t.Fatalf("latched day-low = %#02x, want 0x01", got)
	}

	m.Write(0x4000, 0x0C) // day high / halt / carry
	got := m.Read(0xA000)
	if got&0x01 == 0 {
		t.Fatalf("day-high bit 8 not set in %#02x", got)
	}
	if got&0x40 != 0 {
		t.Fatalf("halt flag unexpectedly set in %#02x", got)
	}
}

func TestMBC3_RTCAdvancesWithWallClockAndPersists(t *testing.T) {
	cur := int64(100)
	restore := freezeClockFunc(t, func() int64 { return cur })
	defer restore()

	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, DMG)
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = 30, 59, 23, 0x1FF
	m.lastRTCWallSec = cur

	cur = 120 // +20s: seconds roll, no higher-order carry
	m.advanceRTC()
	if m.rtcSec != 50 || m.rtcMin != 59 {
		t.Fatalf("after +20s: sec=%d min=%d, want sec=50 min=59", m.rtcSec, m.rtcMin)
	}

	cur = 180 // +60s more: minute, hour and day all roll over, day wraps with carry
	m.advanceRTC()
	if m.rtcSec != 50 || m.rtcMin != 0 || m.rtcHour != 0 || m.rtcDay != 0 || !m.rtcCarry {
		t.Fatalf("after +60s rollover: %02d:%02d:%02d day=%d carry=%v",
			m.rtcHour, m.rtcMin, m.rtcSec, m.rtcDay, m.rtcCarry)
	}

	saved := m.SaveRAM()
	reloaded := NewMBC3(rom, 0x2000, DMG)
	reloaded.LoadRAM(saved)
	if reloaded.rtcSec != m.rtcSec || reloaded.rtcMin != m.rtcMin ||
		reloaded.rtcHour != m.rtcHour || reloaded.rtcDay != m.rtcDay {
		t.Fatalf("RTC did not survive SaveRAM/LoadRAM round trip")
	}
}

func TestMBC3_HaltedClockDoesNotAdvance(t *testing.T) {
	cur := int64(1000)
	restore := freezeClockFunc(t, func() int64 { return cur })
	defer restore()

	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0, DMG)
	m.rtcSec = 10
	m.rtcHalt = true
	m.lastRTCWallSec = cur

	cur = 5000
	m.advanceRTC()
	if m.rtcSec != 10 {
		t.Fatalf("halted RTC advanced: sec=%d, want 10", m.rtcSec)
	}
}

func freezeClock(t *testing.T, fixed int64) func() {
	t.Helper()
	return freezeClockFunc(t, func() int64 { return fixed })
}

func freezeClockFunc(t *testing.T, fn func() int64) func() {
	t.Helper()
	prev := nowUnix
	nowUnix = fn
	return func() { nowUnix = prev }
}
