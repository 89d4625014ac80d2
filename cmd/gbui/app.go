package main

import (
	"encoding/binary"
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/kallistolabs/gbcore/internal/console"
)

const (
	screenW    = 160
	screenH    = 144
	sampleRate = 44100
)

// app is the ebiten front-end: it polls the keyboard into the joypad
// matrix, advances the console one frame per Update, and blits the
// framebuffer in Draw.
type app struct {
	cs    *console.Console
	tex   *ebiten.Image
	title string

	paused bool
	fast   bool // hold Tab: run 4 frames per tick

	audioCtx    *audio.Context
	audioPlayer *audio.Player
}

func newApp(cs *console.Console, title string, scale int) *app {
	if scale <= 0 {
		scale = 3
	}
	if t := cs.ROMTitle(); t != "" {
		title = title + " - [" + t + "]"
	}
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(screenW*scale, screenH*scale)
	a := &app{cs: cs, title: title, tex: ebiten.NewImage(screenW, screenH)}
	a.audioCtx = audio.NewContext(sampleRate)
	return a
}

func (a *app) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyC) && a.cs.IsCGBCompat() {
		a.cs.SetCompatColor(!a.cs.CompatColor())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBracketRight) {
		a.cs.CycleCompatPalette(1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft) {
		a.cs.CycleCompatPalette(-1)
	}
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)

	a.cs.SetButtons(console.Buttons{
		A:      ebiten.IsKeyPressed(ebiten.KeyZ),
		B:      ebiten.IsKeyPressed(ebiten.KeyX),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight) || ebiten.IsKeyPressed(ebiten.KeyBackspace),
		Up:     ebiten.IsKeyPressed(ebiten.KeyArrowUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyArrowDown),
		Left:   ebiten.IsKeyPressed(ebiten.KeyArrowLeft),
		Right:  ebiten.IsKeyPressed(ebiten.KeyArrowRight),
	})

	if a.audioPlayer == nil {
		p, err := a.audioCtx.NewPlayer(&apuStream{cs: a.cs})
		if err == nil {
			a.audioPlayer = p
			a.audioPlayer.Play()
		}
	}

	if a.paused {
		return nil
	}
	frames := 1
	if a.fast {
		frames = 4
	}
	for i := 0; i < frames; i++ {
		a.cs.StepFrame()
	}
	if fatal := a.cs.Fatal(); fatal != nil {
		return fmt.Errorf("cpu locked: %w", fatal)
	}
	return nil
}

func (a *app) Draw(screen *ebiten.Image) {
	a.tex.WritePixels(a.cs.Framebuffer())
	screen.DrawImage(a.tex, nil)
	if a.paused {
		ebitenutil.DebugPrint(screen, "PAUSED")
	}
}

func (a *app) Layout(outW, outH int) (int, int) { return screenW, screenH }

// apuStream adapts the console's buffered (silent) sample pairs to the
// 16-bit little-endian stereo stream ebiten's player reads. Shortfalls
// are padded with silence so playback never stalls.
type apuStream struct {
	cs *console.Console
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) < 4 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	want := len(p) / 4
	frames := s.cs.APUPullStereo(want)
	i := 0
	for j := 0; j+1 < len(frames); j += 2 {
		binary.LittleEndian.PutUint16(p[i:], uint16(frames[j]))
		binary.LittleEndian.PutUint16(p[i+2:], uint16(frames[j+1]))
		i += 4
	}
	for ; i < want*4; i++ {
		p[i] = 0
	}
	return want * 4, nil
}
