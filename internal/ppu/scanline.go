package ppu

// RenderBGScanlineUsingFetcher renders 160 background color indices for
// scanline ly through the fetcher/FIFO pipeline. mapBase is 0x9800 or
// 0x9C00; tileData8000 selects 0x8000 vs 0x8800 signed tile addressing.
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
	f.Fetch()
	// SCX's fractional pixels are shifted out before anything lands on
	// screen.
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31 // map rows wrap at 32 tiles
			f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for one
// scanline, filling pixels from wxStart (WX-7) to the right edge using
// winLine as the vertical line within the window. Pixels before wxStart
// stay 0 so callers can blend over the background.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
	f.Fetch()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}
