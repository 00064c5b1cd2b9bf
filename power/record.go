package power

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	recordMagic = 0x5aa5
	// InvalidLevel marks a record that has never held a measurement.
	InvalidLevel = -10000.0
	// RecordSize is the encoded length of a Record.
	RecordSize = 16
)

var ErrShortRecord = errors.New("power: short control record")

// Record is the state carried across sleep. It is read once per wake and
// written once just before suspending.
type Record struct {
	Magic                  uint16
	LastMeasuredLevel      float32
	UnchangedPostCountdown uint16
	EnterConfigRequested   bool
	DoMeasurementNext      bool
	PostMeasurementNext    bool
	PostLogNext            bool
	// LogCursor is (rolling start block << 24) | byte offset.
	LogCursor uint32
}

func defaultRecord() Record {
	return Record{
		Magic:             recordMagic,
		LastMeasuredLevel: InvalidLevel,
		DoMeasurementNext: true,
	}
}

func (r Record) Valid() bool {
	return r.Magic == recordMagic
}

// MarshalBinary lays the record out little endian:
//
//	0  magic
//	2  last measured level (float32)
//	6  unchanged post countdown
//	8  config, measure, post measurement, post log flags
//	12 log cursor
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:], r.Magic)
	binary.LittleEndian.PutUint32(b[2:], math.Float32bits(r.LastMeasuredLevel))
	binary.LittleEndian.PutUint16(b[6:], r.UnchangedPostCountdown)
	b[8] = flag(r.EnterConfigRequested)
	b[9] = flag(r.DoMeasurementNext)
	b[10] = flag(r.PostMeasurementNext)
	b[11] = flag(r.PostLogNext)
	binary.LittleEndian.PutUint32(b[12:], r.LogCursor)
	return b, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return ErrShortRecord
	}
	r.Magic = binary.LittleEndian.Uint16(b[0:])
	r.LastMeasuredLevel = math.Float32frombits(binary.LittleEndian.Uint32(b[2:]))
	r.UnchangedPostCountdown = binary.LittleEndian.Uint16(b[6:])
	r.EnterConfigRequested = b[8] != 0
	r.DoMeasurementNext = b[9] != 0
	r.PostMeasurementNext = b[10] != 0
	r.PostLogNext = b[11] != 0
	r.LogCursor = binary.LittleEndian.Uint32(b[12:])
	return nil
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
