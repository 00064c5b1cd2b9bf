package logring

// The log cursor packs the rolling start block and the position of the next
// free byte into the single word kept in the control record:
//
//	bits 31..24  rolling start block
//	bits 23..0   byte offset from the start of the rolling start block
const (
	cursorBlockShift  = 24
	cursorOffsetMask  = 0x00ffffff
	cursorMaxBlockNum = 0xff
)

func EncodeCursor(rollingStartBlock, offset int) uint32 {
	return uint32(rollingStartBlock&cursorMaxBlockNum)<<cursorBlockShift | uint32(offset)&cursorOffsetMask
}

func DecodeCursor(c uint32) (rollingStartBlock, offset int) {
	return int(c >> cursorBlockShift), int(c & cursorOffsetMask)
}
