package ecu

import "fmt"

// decodeDTC expands a two-byte trouble code into its SAE string form, e.g.
// 0x0300 -> "P0300". The top two bits select the system letter, the next two
// the first digit; the remaining twelve bits are hex digits.
func decodeDTC(hi, lo byte) string {
	letters := [4]byte{'P', 'C', 'B', 'U'}
	return fmt.Sprintf("%c%d%X%02X", letters[hi>>6], (hi>>4)&0x03, hi&0x0F, lo)
}

// decodeDTCList parses an OBD mode 03/07 response body: a count byte
// followed by two-byte codes. Zero padding at the tail is skipped.
func decodeDTCList(d []byte, status DTCStatus) []DTC {
	if len(d) < 1 {
		return nil
	}
	count := int(d[0])
	var out []DTC
	off := 1
	for i := 0; i < count && off+1 < len(d); i++ {
		hi, lo := d[off], d[off+1]
		off += 2
		if hi == 0 && lo == 0 {
			continue
		}
		out = append(out, DTC{Code: decodeDTC(hi, lo), Status: status})
	}
	return out
}

// printable strips non-ASCII bytes from vendor identification fields.
func printable(d []byte) string {
	out := make([]byte, 0, len(d))
	for _, b := range d {
		if b >= 0x20 && b < 0x7F {
			out = append(out, b)
		}
	}
	return string(out)
}
