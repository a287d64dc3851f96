package formats

import (
	"encoding/binary"
	"strings"
)

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

// trimText removes the NUL and space padding around a text payload.
func trimText(b []byte) string {
	return strings.Trim(string(b), "\x00 \t\r\n")
}

// cString returns b up to its first NUL.
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
