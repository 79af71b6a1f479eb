package crsf

import "github.com/librescoot/fpv-bridge/pkg/crc"

// EncodeRCChannels packs a channel set into a complete CRSF frame of type
// 0x16: sync, length, type, 22 packed payload bytes, crc. The channel
// values are assumed already final (deadzone/expo/reverse all applied by
// the mapper) — this function does a pure saturating linear map from
// microseconds to the wire's 11-bit domain, nothing more.
func EncodeRCChannels(cs ChannelSet) []byte {
	payload := make([]byte, rcChannelsPayloadLen)

	var bitPos uint
	for _, us := range cs {
		v := usToEleven(us)
		writeBits(payload, bitPos, v, 11)
		bitPos += 11
	}

	frame := make([]byte, 0, 3+rcChannelsPayloadLen+1)
	frame = append(frame, SyncByte, byte(rcChannelsPayloadLen+2), FrameTypeRCChannels)
	frame = append(frame, payload...)
	frame = append(frame, crc.Compute(frame[2:]))
	return frame
}

// writeBits places the low `bits` bits of v into dst starting at bit offset
// pos, LSB-first, continuous across byte boundaries: bit 0 of the first
// written value lands at bit 0 of byte 0, and higher-order bits spill into
// subsequent bytes without alignment.
func writeBits(dst []byte, pos uint, v uint16, bits uint) {
	for i := uint(0); i < bits; i++ {
		if v&(1<<i) != 0 {
			bitIdx := pos + i
			dst[bitIdx/8] |= 1 << (bitIdx % 8)
		}
	}
}

func readBits(src []byte, pos uint, bits uint) uint16 {
	var v uint16
	for i := uint(0); i < bits; i++ {
		bitIdx := pos + i
		if src[bitIdx/8]&(1<<(bitIdx%8)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

// DecodeRCChannelsPayload is the inverse of EncodeRCChannels's packing
// step, exposed for tests and for any consumer that wants to inspect the
// channels it just sent.
func DecodeRCChannelsPayload(payload []byte) ChannelSet {
	var cs ChannelSet
	var bitPos uint
	for i := range cs {
		cs[i] = elevenToUS(readBits(payload, bitPos, 11))
		bitPos += 11
	}
	return cs
}
