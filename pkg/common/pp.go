package common

import "strings"

// PPLevel controls how much detail PPString (pretty-print) dumps render,
// mirroring the depth knobs the catalog's own PPString methods take.
type PPLevel uint8

const (
	PPL0 PPLevel = iota
	PPL1
	PPL2
)

func RepeatStr(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
