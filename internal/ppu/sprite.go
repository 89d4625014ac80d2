package ppu

import "sort"

// Sprite is a single OAM entry, already normalized to the coordinate
// space ComposeSpriteLine consumes: X/Y are the sprite's top-left pixel
// on screen (OAM's raw values minus the 8/16 pixel offset), not the raw
// OAM bytes.
type Sprite struct {
	X, Y     byte
	Tile     byte
	Attr     byte // bit7 priority, bit6 yflip, bit5 xflip, bit4 DMG palette, bit3 bank (CGB), bits0-2 CGB palette
	OAMIndex byte
}

// scanOAMLine collects up to 10 sprites intersecting scanline ly, in OAM
// order, which is also the order CPU-side priority ties break on.
func scanOAMLine(oam [0xA0]byte, ly byte, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var found []Sprite
	for i := 0; i < 40 && len(found) < 10; i++ {
		base := i * 4
		rawY := oam[base]
		rawX := oam[base+1]
		tile := oam[base+2]
		attr := oam[base+3]
		y := int(rawY) - 16
		x := int(rawX) - 8
		row := int(ly) - y
		if row < 0 || row >= height {
			continue
		}
		found = append(found, Sprite{
			X: byte(x), Y: byte(y), Tile: tile, Attr: attr, OAMIndex: byte(i),
		})
	}
	return found
}

// orderedSprites applies the same lowest-drawn-last ordering
// ComposeSpriteLine blends with, lowest priority first so later writes
// in the loop win: CGB sorts purely by OAM index, DMG breaks ties on X
// with OAM index as the final tiebreaker.
func orderedSprites(sprites []Sprite, cgb bool) []Sprite {
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	sort.SliceStable(ordered, func(i, j int) bool {
		if cgb {
			return ordered[i].OAMIndex > ordered[j].OAMIndex
		}
		if ordered[i].X != ordered[j].X {
			return ordered[i].X > ordered[j].X
		}
		return ordered[i].OAMIndex > ordered[j].OAMIndex
	})
	return ordered
}

// ComposeSpriteLine renders sprites over a rendered BG/window scanline
// (bgci, BG/window color indices 0-3) and returns the final 160-wide
// color-index line. A sprite pixel is transparent at color index 0;
// priority bit7 hides an opaque sprite pixel behind a non-zero BG pixel.
// Overlapping opaque sprite pixels resolve by DMG priority (lower X wins,
// ties by lower OAM index) unless cgb is true, in which case OAM index
// alone decides (CGB's OBJ priority mode when BG/OBJ master priority
// is off).
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall, cgb bool) [160]byte {
	var out [160]byte

	ordered := orderedSprites(sprites, cgb)

	height := 8
	if tall {
		height = 16
	}

	for _, s := range ordered {
		row := int(ly) - int(s.Y)
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // yflip over the full sprite height
			row = height - 1 - row
		}
		tileIndex := s.Tile
		subRow := row
		if tall {
			tileIndex = s.Tile &^ 0x01
			if row >= 8 {
				tileIndex |= 0x01
				subRow = row - 8
			}
		}
		base := uint16(0x8000) + uint16(tileIndex)*16 + uint16(subRow)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)

		for col := 0; col < 8; col++ {
			bit := 7 - col
			if s.Attr&0x20 != 0 { // xflip
				bit = col
			}
			ci := (hi>>uint(bit)&1)<<1 | (lo >> uint(bit) & 1)
			if ci == 0 {
				continue
			}
			x := int(s.X) + col
			if x < 0 || x >= 160 {
				continue
			}
			if s.Attr&0x80 != 0 && bgci[x] != 0 {
				continue
			}
			out[x] = ci
		}
	}
	return out
}
