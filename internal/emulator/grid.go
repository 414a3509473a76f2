package emulator

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	defaultCols = 80
	defaultRows = 24

	maxCSILen = 256
	maxOSCLen = 2048
)

type escapeMode uint8

const (
	escapeNone escapeMode = iota
	escapeInitial
	escapeCSI
	escapeOSC
)

// gridEmulator is the reference Emulator: a character grid parsed from raw
// PTY bytes with a small escape-sequence state machine, rendered to RGBA by
// painting each occupied cell as a solid block. It trades visual fidelity
// for determinism — useful for tests and the loopback transport, where what
// matters is that Feed/Resize/Snapshot compose correctly, not that the
// pixels look like a real terminal font.
type gridEmulator struct {
	cols, rows    int
	width, height int

	lines [][]rune
	head  int
	row   int
	col   int

	escapeMode escapeMode
	oscPending bool
	oscBuf     strings.Builder
	csiLen     int

	title string
	pwd   string

	remainder [utf8.UTFMax]byte
	remLen    int

	surface Surface
}

func newGridEmulator(cols, rows, width, height int) *gridEmulator {
	cols, rows = sanitizeCells(cols, rows)
	width, height = sanitizePixels(width, height, cols, rows)
	lines := make([][]rune, rows)
	for i := range lines {
		lines[i] = make([]rune, 0, cols)
	}
	return &gridEmulator{
		cols:   cols,
		rows:   rows,
		width:  width,
		height: height,
		lines:  lines,
	}
}

func sanitizeCells(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	return cols, rows
}

func sanitizePixels(width, height, cols, rows int) (int, int) {
	if width <= 0 {
		width = cols * 8
	}
	if height <= 0 {
		height = rows * 16
	}
	return width, height
}

func (g *gridEmulator) physIdx(logicalRow int) int {
	return (g.head + logicalRow) % len(g.lines)
}

func (g *gridEmulator) Title() string { return g.title }
func (g *gridEmulator) Pwd() string   { return g.pwd }

func (g *gridEmulator) Resize(cols, rows, width, height int) {
	cols, rows = sanitizeCells(cols, rows)
	width, height = sanitizePixels(width, height, cols, rows)
	g.resetEscape()

	if rows != g.rows {
		oldRows := g.rows
		if oldRows > len(g.lines) {
			oldRows = len(g.lines)
		}
		linearized := make([][]rune, oldRows)
		for i := 0; i < oldRows; i++ {
			linearized[i] = g.lines[g.physIdx(i)]
		}
		newLines := make([][]rune, rows)
		if rows > oldRows {
			copy(newLines, linearized)
			for i := oldRows; i < rows; i++ {
				newLines[i] = make([]rune, 0, cols)
			}
		} else {
			start := 0
			if len(linearized) > rows {
				start = len(linearized) - rows
			}
			copy(newLines, linearized[start:])
		}
		g.lines = newLines
		g.head = 0
	}

	for i := range g.lines {
		if len(g.lines[i]) > cols {
			g.lines[i] = g.lines[i][:cols]
		}
	}

	g.cols, g.rows = cols, rows
	g.width, g.height = width, height

	if g.col > g.cols {
		g.col = g.cols
	}
	if g.row >= g.rows {
		g.row = g.rows - 1
	}
	if g.row < 0 {
		g.row = 0
	}
}

func (g *gridEmulator) Feed(chunk []byte) {
	if g.remLen > 0 {
		need := utf8NeedBytes(g.remainder[0]) - g.remLen
		if need > len(chunk) {
			copy(g.remainder[g.remLen:], chunk)
			g.remLen += len(chunk)
			return
		}
		copy(g.remainder[g.remLen:], chunk[:need])
		r, _ := utf8.DecodeRune(g.remainder[:g.remLen+need])
		g.consumeRune(r)
		chunk = chunk[need:]
		g.remLen = 0
	}

	for len(chunk) > 0 {
		b := chunk[0]
		if b < utf8.RuneSelf {
			g.consumeRune(rune(b))
			chunk = chunk[1:]
			continue
		}
		r, size := utf8.DecodeRune(chunk)
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(chunk) {
				g.remLen = copy(g.remainder[:], chunk)
				break
			}
			slog.Debug("emulator: skipping invalid UTF-8 byte")
			chunk = chunk[1:]
			continue
		}
		g.consumeRune(r)
		chunk = chunk[size:]
	}
}

func utf8NeedBytes(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

func (g *gridEmulator) consumeRune(r rune) {
	if g.escapeMode != escapeNone {
		g.consumeEscapeRune(r)
		return
	}
	switch r {
	case 0x1b:
		g.escapeMode = escapeInitial
	case '\r':
		g.col = 0
	case '\n':
		g.newLine()
	case '\b':
		if g.col > 0 {
			g.col--
		}
	case '\t':
		spaces := 8 - (g.col % 8)
		for i := 0; i < spaces; i++ {
			g.putRune(' ')
		}
	default:
		if r < 0x20 || r == 0x7f {
			return
		}
		g.putRune(r)
	}
}

func (g *gridEmulator) consumeEscapeRune(r rune) {
	switch g.escapeMode {
	case escapeInitial:
		switch r {
		case '[':
			g.escapeMode = escapeCSI
			g.csiLen = 0
		case ']':
			g.escapeMode = escapeOSC
			g.oscPending = false
			g.oscBuf.Reset()
		default:
			g.resetEscape()
		}
	case escapeCSI:
		g.csiLen++
		if (r >= 0x40 && r <= 0x7e) || r == '\r' || r == '\n' || g.csiLen >= maxCSILen {
			g.resetEscape()
		}
	case escapeOSC:
		if r == 0x07 {
			g.applyOSC()
			g.resetEscape()
			return
		}
		if g.oscPending && r == '\\' {
			g.applyOSC()
			g.resetEscape()
			return
		}
		g.oscPending = r == 0x1b
		if r == '\r' || r == '\n' || g.oscBuf.Len() >= maxOSCLen {
			g.resetEscape()
			return
		}
		if !g.oscPending {
			g.oscBuf.WriteRune(r)
		}
	default:
		g.resetEscape()
	}
}

// applyOSC interprets a completed OSC payload. Recognized forms:
//
//	0;<title>  or  2;<title>  — set window title
//	7;file://<host><path>     — report current working directory
func (g *gridEmulator) applyOSC() {
	payload := g.oscBuf.String()
	idx := strings.IndexByte(payload, ';')
	if idx < 0 {
		return
	}
	code, body := payload[:idx], payload[idx+1:]
	switch code {
	case "0", "2":
		g.title = body
	case "7":
		if u := strings.Index(body, "://"); u >= 0 {
			rest := body[u+3:]
			if slash := strings.IndexByte(rest, '/'); slash >= 0 {
				g.pwd = rest[slash:]
				return
			}
		}
		g.pwd = body
	}
}

func (g *gridEmulator) resetEscape() {
	g.escapeMode = escapeNone
	g.oscPending = false
	g.oscBuf.Reset()
	g.csiLen = 0
}

func (g *gridEmulator) putRune(r rune) {
	if g.cols <= 0 || g.rows <= 0 {
		return
	}
	if g.row >= g.rows {
		g.row = g.rows - 1
	}
	if g.col >= g.cols {
		g.newLine()
	}
	idx := g.physIdx(g.row)
	line := g.lines[idx]
	for len(line) < g.col {
		line = append(line, ' ')
	}
	if len(line) == g.col {
		line = append(line, r)
	} else {
		line[g.col] = r
	}
	if len(line) > g.cols {
		line = line[:g.cols]
	}
	g.lines[idx] = line
	g.col++
}

func (g *gridEmulator) newLine() {
	if g.rows <= 0 {
		return
	}
	if g.row < g.rows-1 {
		g.row++
		g.col = 0
		return
	}
	oldHead := g.head
	g.head = (g.head + 1) % len(g.lines)
	g.lines[oldHead] = g.lines[oldHead][:0]
	g.col = 0
}

// Snapshot renders the grid to an RGBA surface: one solid block of pixels
// per occupied cell, black background otherwise. The surface is reused
// across calls; callers must treat it as borrowed per the Emulator
// contract.
func (g *gridEmulator) Snapshot() Surface {
	need := g.width * g.height * 4
	if cap(g.surface.Pix) < need {
		g.surface.Pix = make([]byte, need)
	}
	pix := g.surface.Pix[:need]
	for i := range pix {
		pix[i] = 0
	}

	cellW := g.width / max(g.cols, 1)
	cellH := g.height / max(g.rows, 1)

	for row := 0; row < g.rows; row++ {
		line := g.lines[g.physIdx(row)]
		for col, r := range line {
			if r == ' ' || r == 0 {
				continue
			}
			paintCell(pix, g.width, g.height, col*cellW, row*cellH, cellW, cellH)
		}
	}

	g.surface.Width = g.width
	g.surface.Height = g.height
	g.surface.Pix = pix
	return g.surface
}

func paintCell(pix []byte, width, height, x0, y0, w, h int) {
	for y := y0; y < y0+h && y < height; y++ {
		rowStart := y * width * 4
		for x := x0; x < x0+w && x < width; x++ {
			off := rowStart + x*4
			pix[off] = 0xff
			pix[off+1] = 0xff
			pix[off+2] = 0xff
			pix[off+3] = 0xff
		}
	}
}
