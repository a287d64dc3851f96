package bmff

import "strconv"

// ReadEsdsCodec extracts the codec parameter from esds box data: the
// object type indication in hex, followed by the audio object type when
// a decoder specific info is present ("40.2" for AAC-LC).
func ReadEsdsCodec(data []byte) string {
	ptr, end := 0, len(data)
	if end < 2 || data[ptr] != 0x03 { // ES_Descriptor
		return ""
	}
	ptr = skipDescriptorLength(data, ptr+1, end)
	if ptr < 0 || ptr+3 > end {
		return ""
	}

	// ES_ID(2) + flags(1), then the fields the flags announce
	flags := data[ptr+2]
	ptr += 3
	if flags&0x80 != 0 { // streamDependenceFlag
		ptr += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if ptr >= end {
			return ""
		}
		ptr += 1 + int(data[ptr])
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		ptr += 2
	}

	if ptr >= end || data[ptr] != 0x04 { // DecoderConfigDescriptor
		return ""
	}
	ptr = skipDescriptorLength(data, ptr+1, end)
	if ptr < 0 || ptr+13 > end {
		return ""
	}
	oti := data[ptr]
	if oti == 0 {
		return ""
	}
	codec := strconv.FormatUint(uint64(oti), 16)

	// OTI(1)+streamType(1)+bufferSizeDB(3)+maxBitrate(4)+avgBitrate(4)
	ptr += 13
	if ptr >= end || data[ptr] != 0x05 { // DecoderSpecificInfo
		return codec
	}
	ptr = skipDescriptorLength(data, ptr+1, end)
	if ptr < 0 || ptr >= end {
		return codec
	}
	if aot := data[ptr] >> 3; aot != 0 {
		codec += "." + strconv.Itoa(int(aot))
	}
	return codec
}

// skipDescriptorLength skips the variable-length descriptor length field.
// Returns the new position, or -1 on error.
func skipDescriptorLength(data []byte, ptr, end int) int {
	for i := 0; ptr < end && i < 4; i++ {
		b := data[ptr]
		ptr++
		if b&0x80 == 0 {
			return ptr
		}
	}
	return -1
}
