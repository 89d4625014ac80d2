package ppu

// BankedVRAMReader reads VRAM with an explicit bank selector, needed for
// CGB background rendering where tile data can live in either of the two
// 8 KiB VRAM banks and the attribute byte for each map entry lives in
// bank 1 at the map's address.
type BankedVRAMReader interface {
	ReadBank(bank int, addr uint16) byte
}

// cgbAttrs unpacks one CGB BG/window map attribute byte.
type cgbAttrs struct {
	palette  byte
	bank     int
	xflip    bool
	yflip    bool
	priority bool
}

func decodeCGBAttr(b byte) cgbAttrs {
	return cgbAttrs{
		palette:  b & 0x07,
		bank:     int(b>>3) & 0x01,
		xflip:    b&0x20 != 0,
		yflip:    b&0x40 != 0,
		priority: b&0x80 != 0,
	}
}

func cgbTileRow(mem BankedVRAMReader, bank int, tileData8000 bool, tileNum byte, fineY byte) (lo, hi byte) {
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(fineY)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fineY)*2
	}
	return mem.ReadBank(bank, base), mem.ReadBank(bank, base+1)
}

func cgbTilePixels(lo, hi byte, xflip bool) (ci [8]byte) {
	for px := 0; px < 8; px++ {
		bit := 7 - px
		if xflip {
			bit = px
		}
		ci[px] = (hi>>uint(bit)&1)<<1 | (lo >> uint(bit) & 1)
	}
	return ci
}

// RenderBGScanlineCGB renders 160 BG pixels honoring per-tile CGB
// attributes (palette, bank, flips, BG-to-OBJ priority). mapBase selects
// the tile-index table (bank 0); attrBase selects where the matching
// attribute bytes live (bank 1, normally the same address as mapBase).
func RenderBGScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	x := 0
	first := true
	for x < 160 {
		offset := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+offset)
		attr := decodeCGBAttr(mem.ReadBank(1, attrBase+offset))

		row := fineY
		if attr.yflip {
			row = 7 - fineY
		}
		lo, hi := cgbTileRow(mem, attr.bank, tileData8000, tileNum, row)
		px := cgbTilePixels(lo, hi, attr.xflip)

		start := 0
		if first {
			start = fineX
			first = false
		}
		for i := start; i < 8 && x < 160; i++ {
			ci[x] = px[i]
			pal[x] = attr.palette
			pri[x] = attr.priority
			x++
		}
		tileX = (tileX + 1) & 31
	}
	return ci, pal, pri
}

// RenderWindowScanlineCGB renders the window layer from wxStart to the
// end of the line, honoring the same per-tile attributes as the BG.
func RenderWindowScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return ci, pal, pri
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7

	tileX := uint16(0)
	x := wxStart
	for x < 160 {
		offset := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+offset)
		attr := decodeCGBAttr(mem.ReadBank(1, attrBase+offset))

		row := fineY
		if attr.yflip {
			row = 7 - fineY
		}
		lo, hi := cgbTileRow(mem, attr.bank, tileData8000, tileNum, row)
		px := cgbTilePixels(lo, hi, attr.xflip)

		for i := 0; i < 8 && x < 160; i++ {
			ci[x] = px[i]
			pal[x] = attr.palette
			pri[x] = attr.priority
			x++
		}
		tileX = (tileX + 1) & 31
	}
	return ci, pal, pri
}
