package x11

import (
	"bytes"
	"strings"
)

var edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

const (
	edidBlockSize      = 128
	edidDescriptorBase = 54
	edidDescriptorSize = 18
	edidTagModelName   = 0xfc
)

// ParseEDID extracts the PNP manufacturer id and the monitor name
// descriptor from an EDID blob. Missing fields come back empty.
func ParseEDID(data []byte) (manufacturer, model string) {
	if len(data) < edidBlockSize || !bytes.Equal(data[:len(edidHeader)], edidHeader) {
		return "", ""
	}

	// Three 5-bit letters, 'A' == 1, big endian.
	id := uint16(data[8])<<8 | uint16(data[9])
	letters := []byte{
		byte(id>>10&0x1f) + 'A' - 1,
		byte(id>>5&0x1f) + 'A' - 1,
		byte(id&0x1f) + 'A' - 1,
	}
	valid := true
	for _, l := range letters {
		if l < 'A' || l > 'Z' {
			valid = false
		}
	}
	if valid {
		manufacturer = string(letters)
	}

	for i := 0; i < 4; i++ {
		d := data[edidDescriptorBase+i*edidDescriptorSize : edidDescriptorBase+(i+1)*edidDescriptorSize]
		// Display descriptors start with a zero pixel clock.
		if d[0] != 0 || d[1] != 0 || d[3] != edidTagModelName {
			continue
		}
		text := d[5:]
		if n := bytes.IndexByte(text, '\n'); n >= 0 {
			text = text[:n]
		}
		model = strings.TrimSpace(string(text))
		break
	}
	return manufacturer, model
}
