package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"

	"github.com/jhunley/ka9q-radio/channel"
)

const (
	colDef     = termbox.ColorDefault
	colWhite   = termbox.ColorWhite
	colRed     = termbox.ColorRed
	colGreen   = termbox.ColorGreen
	colYellow  = termbox.ColorYellow
	colCyan    = termbox.ColorCyan
	colMagenta = termbox.ColorMagenta
)

// tuiState is the operator console's view of the station: a scrolling
// table of live channels, one selectable row per channel, with an SNR
// meter for whichever row is selected.
type tuiState struct {
	station  *Station
	selected int
	exit     bool
}

func runTUI(ctx context.Context, station *Station) {
	if err := termbox.Init(); err != nil {
		fmt.Printf("failed to initialize console: %v\n", err)
		return
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	state := &tuiState{station: station}

	eventQueue := make(chan termbox.Event)
	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	draw(state)
	for !state.exit {
		select {
		case <-ctx.Done():
			return
		case ev := <-eventQueue:
			if ev.Type == termbox.EventKey {
				handleKey(ev, state)
			}
			if !state.exit {
				draw(state)
			}
		case <-ticker.C:
			draw(state)
		}
	}
}

func handleKey(ev termbox.Event, s *tuiState) {
	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}
	names := channelNames(s.station)
	switch ev.Key {
	case termbox.KeyArrowUp:
		s.selected--
		if s.selected < 0 {
			s.selected = len(names) - 1
		}
	case termbox.KeyArrowDown:
		s.selected++
		if s.selected >= len(names) {
			s.selected = 0
		}
	}
	if ev.Ch == 'x' && s.selected >= 0 && s.selected < len(names) {
		_ = s.station.StopChannel(names[s.selected])
	}
}

func channelNames(station *Station) []string {
	chans := station.Channels()
	names := make([]string, 0, len(chans))
	for name := range chans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func draw(s *tuiState) {
	_ = termbox.Clear(colDef, colDef)

	printTB(0, 0, colCyan, colDef, "radiod operator console")
	printTB(0, 1, colDef, colDef, "Up/Down select, 'x' stop channel, 'q' or Esc to quit")
	printTB(0, 2, colDef, colDef, "────────────────────────────────────────────────────────────────")

	header := fmt.Sprintf("%-16s %8s %10s %8s %6s %6s %6s", "NAME", "SNR(dB)", "FOFF(Hz)", "GAIN", "LOCK", "ROT", "MUTE")
	printTB(0, 4, colYellow, colDef, header)

	names := channelNames(s.station)
	if s.selected >= len(names) {
		s.selected = len(names) - 1
	}
	if s.selected < 0 {
		s.selected = 0
	}

	chans := s.station.Channels()
	for i, name := range names {
		ch := chans[name]
		snap := ch.Status.Snapshot()
		row := formatRow(name, snap)

		col := colWhite
		bg := colDef
		if i == s.selected {
			col, bg = colDef, colWhite
		}
		printTB(0, 5+i, col, bg, row)
	}

	if len(names) == 0 {
		printTB(0, 5, colDef, colDef, "(no live channels)")
		termbox.Flush()
		return
	}

	selCh := chans[names[s.selected]]
	drawDetail(selCh, 7+len(names))
	termbox.Flush()
}

func formatRow(name string, snap channel.Status) string {
	name = runewidth.Truncate(name, 16, "")
	lock := "-"
	if snap.PLLLock {
		lock = "LOCK"
	}
	mute := "-"
	if snap.Muted {
		mute = "MUTE"
	}
	return fmt.Sprintf("%-16s %8.1f %10.1f %8.3f %6s %6d %6s",
		name, 10*math.Log10(snap.SNR), snap.FOffset, snap.Gain, lock, snap.Rotations, mute)
}

func drawDetail(ch *channel.Channel, y int) {
	snap := ch.Status.Snapshot()
	printTB(0, y, colMagenta, colDef, fmt.Sprintf("Selected: %s  mode=%s  freq=%.1f Hz", ch.Name, ch.Mode, ch.Tuning.Freq))
	drawMeter(y+2, "SNR  ", 10*math.Log10(snap.SNR), colGreen)
	drawMeter(y+3, "Gain ", linToDB(snap.Gain), colRed)
}

func linToDB(v float64) float64 {
	if v <= 1e-9 {
		return -96.0
	}
	return 20 * math.Log10(v)
}

func drawMeter(yPos int, label string, db float64, color termbox.Attribute) {
	const (
		barWidth = 50
		xPos     = 2
		minDB    = -48.0
		maxDB    = 24.0
	)
	if db < minDB {
		db = minDB
	}
	if db > maxDB {
		db = maxDB
	}
	ratio := (db - minDB) / (maxDB - minDB)
	filled := int(ratio * float64(barWidth))

	printTB(xPos, yPos, colDef, colDef, fmt.Sprintf("%s [%-6.1f dB] ", label, db))
	startX := xPos + 16
	for i := range barWidth {
		var barChar rune
		if i < filled {
			barChar = '█'
		} else {
			barChar = '░'
		}
		termbox.SetCell(startX+i, yPos, barChar, color, colDef)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x += runewidth.RuneWidth(c)
	}
}
