// Package crsf implements the CRSF wire codec: framing, bit-packing, and
// parsing for the link between the bridge and an ExpressLRS transmitter
// module.
package crsf

const (
	SyncByte byte = 0xC8

	// MinFrameLength and MaxFrameLength bound the length byte (type +
	// payload + crc), not the full frame.
	MinFrameLength = 3
	MaxFrameLength = 64

	FrameTypeGPS        byte = 0x02
	FrameTypeBattery    byte = 0x08
	FrameTypeLinkStats  byte = 0x14
	FrameTypeRCChannels byte = 0x16
	FrameTypeAttitude   byte = 0x1E
)

var payloadLengths = map[byte]int{
	FrameTypeGPS:       15,
	FrameTypeBattery:   8,
	FrameTypeLinkStats: 10,
	FrameTypeAttitude:  6,
}

const (
	NumChannels     = 16
	ChannelMinUS    = 988
	ChannelMaxUS    = 2012
	ChannelCenterUS = 1500

	rcChannelsPayloadLen = 22
	elevenBitMax         = 2047
)
