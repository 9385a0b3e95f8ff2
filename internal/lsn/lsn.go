// Package lsn provides the 64-bit log sequence number type used to order
// snapshot artifacts and replication slot restart positions.
package lsn

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a PostgreSQL log sequence number: two 32-bit halves packed into a
// uint64 with a total order. The zero value is used as the "no position"
// sentinel throughout the monitor.
type LSN uint64

// Zero is the invalid/no-position sentinel.
const Zero LSN = 0

// SnapSuffix is the file extension of logical decoding snapshot artifacts.
const SnapSuffix = ".snap"

// Make packs the two 32-bit halves into an LSN.
func Make(hi, lo uint32) LSN {
	return LSN(uint64(hi)<<32 | uint64(lo))
}

// Hi returns the upper 32 bits.
func (l LSN) Hi() uint32 {
	return uint32(uint64(l) >> 32)
}

// Lo returns the lower 32 bits.
func (l LSN) Lo() uint32 {
	return uint32(uint64(l))
}

// String formats the LSN in the conventional X/X form, e.g. "16/B374D848".
func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", l.Hi(), l.Lo())
}

// Parse parses the textual X/X form produced by String and by the server's
// pg_lsn type. The whole input must be consumed; trailing garbage is an
// error rather than silently truncated.
func Parse(s string) (LSN, error) {
	hiStr, loStr, found := strings.Cut(s, "/")
	if !found {
		return Zero, fmt.Errorf("parse lsn %q: malformed", s)
	}
	hi, err := strconv.ParseUint(hiStr, 16, 32)
	if err != nil {
		return Zero, fmt.Errorf("parse lsn %q: malformed", s)
	}
	lo, err := strconv.ParseUint(loStr, 16, 32)
	if err != nil {
		return Zero, fmt.Errorf("parse lsn %q: malformed", s)
	}
	return Make(uint32(hi), uint32(lo)), nil
}

// ParseSnapFilename extracts the LSN from a snapshot artifact filename of the
// form HHHHHHHH-LLLLLLLL.snap, where both components are 8-digit hex. Any
// other name returns ok=false; callers are expected to skip such entries.
func ParseSnapFilename(name string) (LSN, bool) {
	base, found := strings.CutSuffix(name, SnapSuffix)
	if !found {
		return Zero, false
	}
	hiStr, loStr, found := strings.Cut(base, "-")
	if !found || len(hiStr) != 8 || len(loStr) != 8 {
		return Zero, false
	}
	hi, err := strconv.ParseUint(hiStr, 16, 32)
	if err != nil {
		return Zero, false
	}
	lo, err := strconv.ParseUint(loStr, 16, 32)
	if err != nil {
		return Zero, false
	}
	return Make(uint32(hi), uint32(lo)), true
}
