package ui

import "golang.org/x/term"

// fder is satisfied by *os.File.
type fder interface {
	Fd() uintptr
}

// IsTTY reports whether f refers to a terminal.
func IsTTY(f fder) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TermWidth returns the width of the terminal behind f in columns, or 80
// when it cannot be determined.
func TermWidth(f fder) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
