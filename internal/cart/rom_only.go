package cart

// ROMOnly implements a cartridge without MBC or external RAM (type 0x00),
// and doubles as the ROM+RAM variants (0x08/0x09) by carrying an optional
// unbanked 8KiB RAM window.
type ROMOnly struct {
	rom   []byte
	ram   []byte
	model Model
}

func NewROMOnly(rom []byte, model Model) *ROMOnly {
	return &ROMOnly{rom: rom, model: model}
}

func (c *ROMOnly) Model() Model { return c.model }

func (c *ROMOnly) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if int(addr) < len(c.rom) {
			return c.rom[addr]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		off := int(addr - 0xA000)
		if off < len(c.ram) {
			return c.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (c *ROMOnly) Write(addr uint16, value byte) {
	if addr >= 0xA000 && addr <= 0xBFFF {
		off := int(addr - 0xA000)
		if off < len(c.ram) {
			c.ram[off] = value
		}
	}
	// Writes into 0x0000-0x7FFF have no controller to receive them; dropped.
}

func (c *ROMOnly) SaveRAM() []byte {
	if len(c.ram) == 0 {
		return nil
	}
	out := make([]byte, len(c.ram))
	copy(out, c.ram)
	return out
}

func (c *ROMOnly) LoadRAM(data []byte) {
	if len(c.ram) == 0 {
		c.ram = make([]byte, 8*1024)
	}
	copy(c.ram, data)
}
