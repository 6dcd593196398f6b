// Package console implements the D_CONSOLE device: the UART-facing
// line discipline a user process's stdin/stdout reads and writes
// through, standing in for sbi.rs's console_putchar/console_getchar
// wired directly into the trap syscall path. Column tracking classifies
// each output byte with golang.org/x/text/width; since PutChar receives
// single bytes, a multi-byte UTF-8 character advances the column once
// per byte rather than by its display width.
package console

import (
	"bufio"
	"errors"
	"strings"
	"sync"

	"golang.org/x/text/width"

	"github.com/Conless/remire/internal/sbi"
)

var errEOF = errors.New("console: EOF")

// Device is the console's kernel-side state: an input line buffer plus
// the current output column, needed only for diagnostic formatting
// since the real cursor lives in the terminal emulator.
type Device struct {
	mu     sync.Mutex
	column int
	inbuf  strings.Builder
}

var console_ = &Device{}

// PutChar writes one byte to the console and advances the tracked
// output column by that byte's width taken as a single rune. No byte
// value is a wide rune, so each byte advances the column by one.
func PutChar(c byte) {
	console_.mu.Lock()
	defer console_.mu.Unlock()
	sbi.ConsolePutchar(c)
	if c == '\n' {
		console_.column = 0
		return
	}
	console_.column += runeWidth(rune(c))
}

// Column reports the console's current output column.
func Column() int {
	console_.mu.Lock()
	defer console_.mu.Unlock()
	return console_.column
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

// GetChar blocks for and returns the next input byte, or -1 on EOF.
func GetChar() int {
	return sbi.ConsoleGetchar()
}

// ReadLine blocks until a full line (terminated by '\n') has been
// typed, and returns it without the trailing newline. No syscall path
// calls it; sys_read reads single bytes through GetChar.
func ReadLine() string {
	r := bufio.NewReader(lineReader{})
	line, _ := r.ReadString('\n')
	return strings.TrimSuffix(line, "\n")
}

type lineReader struct{}

func (lineReader) Read(p []byte) (int, error) {
	c := GetChar()
	if c < 0 {
		return 0, errEOF
	}
	p[0] = byte(c)
	return 1, nil
}
