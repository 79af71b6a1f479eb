package crsf

import "encoding/binary"

// TelemetryRecord is a tagged union over the telemetry frame types this
// bridge understands. Exactly one of the typed fields is non-nil,
// determined by Kind.
type TelemetryRecord struct {
	Kind      TelemetryKind
	LinkStats *LinkStats
	Battery   *Battery
	GPS       *GPS
	Attitude  *Attitude
	Unknown   *UnknownFrame
}

type TelemetryKind int

const (
	KindLinkStats TelemetryKind = iota
	KindBattery
	KindGPS
	KindAttitude
	KindUnknown
)

// LinkStats mirrors CRSF type 0x14. RSSI fields are negated to dBm (the
// wire carries positive magnitudes); an invalid 0xFF byte surfaces as a nil
// pointer rather than a sentinel magic number.
type LinkStats struct {
	UplinkRSSI1Dbm    *int8
	UplinkRSSI2Dbm    *int8
	UplinkLQPct       uint8
	UplinkSNRDb       int8
	ActiveAntenna     uint8
	RFMode            uint8
	UplinkTXPowerCode uint8
	DownlinkRSSIDbm   *int8
	DownlinkLQPct     uint8
	DownlinkSNRDb     int8
}

// Battery mirrors CRSF type 0x08.
type Battery struct {
	VoltageCentivolt int16
	CurrentDeciamp   int16
	CapacityMAh      int32
	RemainingPct     uint8
}

// GPS mirrors CRSF type 0x02.
type GPS struct {
	LatE7         int32
	LonE7         int32
	SpeedKmhX10   uint16
	HeadingDegX100 uint16
	AltitudeM     int32 // decoded already with the +1000m offset removed
	Satellites    uint8
}

// Attitude mirrors CRSF type 0x1E. Units are ten-thousandths of a radian.
type Attitude struct {
	Pitch int16
	Roll  int16
	Yaw   int16
}

// UnknownFrame preserves an unrecognized frame type's raw bytes rather than
// failing decode outright.
type UnknownFrame struct {
	Type    byte
	Payload []byte
}

func invalidRSSIToDbm(raw uint8) *int8 {
	if raw == 0xFF {
		return nil
	}
	v := -int8(raw)
	return &v
}

// DecodeTelemetry interprets a raw CRSF frame's type and payload. Unknown
// types decode to an Unknown record rather than an error; the caller never
// needs to special-case dispatch failures.
func DecodeTelemetry(f RawFrame) TelemetryRecord {
	switch f.Type {
	case FrameTypeLinkStats:
		if len(f.Payload) != payloadLengths[FrameTypeLinkStats] {
			break
		}
		p := f.Payload
		ls := &LinkStats{
			UplinkRSSI1Dbm:    invalidRSSIToDbm(p[0]),
			UplinkRSSI2Dbm:    invalidRSSIToDbm(p[1]),
			UplinkLQPct:       p[2],
			UplinkSNRDb:       int8(p[3]),
			ActiveAntenna:     p[4],
			RFMode:            p[5],
			UplinkTXPowerCode: p[6],
			DownlinkRSSIDbm:   invalidRSSIToDbm(p[7]),
			DownlinkLQPct:     p[8],
			DownlinkSNRDb:     int8(p[9]),
		}
		return TelemetryRecord{Kind: KindLinkStats, LinkStats: ls}

	case FrameTypeBattery:
		if len(f.Payload) != payloadLengths[FrameTypeBattery] {
			break
		}
		p := f.Payload
		capacity := int32(p[4])<<16 | int32(p[5])<<8 | int32(p[6])
		b := &Battery{
			VoltageCentivolt: int16(binary.BigEndian.Uint16(p[0:2])),
			CurrentDeciamp:   int16(binary.BigEndian.Uint16(p[2:4])),
			CapacityMAh:      capacity,
			RemainingPct:     p[7],
		}
		return TelemetryRecord{Kind: KindBattery, Battery: b}

	case FrameTypeGPS:
		if len(f.Payload) != payloadLengths[FrameTypeGPS] {
			break
		}
		p := f.Payload
		g := &GPS{
			LatE7:          int32(binary.BigEndian.Uint32(p[0:4])),
			LonE7:          int32(binary.BigEndian.Uint32(p[4:8])),
			SpeedKmhX10:    binary.BigEndian.Uint16(p[8:10]),
			HeadingDegX100: binary.BigEndian.Uint16(p[10:12]),
			AltitudeM:      int32(binary.BigEndian.Uint16(p[12:14])) - 1000,
			Satellites:     p[14],
		}
		return TelemetryRecord{Kind: KindGPS, GPS: g}

	case FrameTypeAttitude:
		if len(f.Payload) != payloadLengths[FrameTypeAttitude] {
			break
		}
		p := f.Payload
		a := &Attitude{
			Pitch: int16(binary.BigEndian.Uint16(p[0:2])),
			Roll:  int16(binary.BigEndian.Uint16(p[2:4])),
			Yaw:   int16(binary.BigEndian.Uint16(p[4:6])),
		}
		return TelemetryRecord{Kind: KindAttitude, Attitude: a}
	}

	return TelemetryRecord{Kind: KindUnknown, Unknown: &UnknownFrame{Type: f.Type, Payload: f.Payload}}
}
