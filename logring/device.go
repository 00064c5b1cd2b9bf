package logring

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// erased is the value of an erased flash byte.
const erased = 0xff

// BlockDevice is an erase-before-write block store. Block numbers are
// relative to the start of the log region.
type BlockDevice interface {
	BlockSize() int
	Blocks() int
	ReadAt(block, off int, p []byte) error
	Erase(block int) error
	Program(block int, p []byte) error
}

func checkRange(d BlockDevice, block, off, n int) error {
	if block < 0 || block >= d.Blocks() {
		return fmt.Errorf("logring: block %d outside region of %d", block, d.Blocks())
	}
	if off < 0 || off+n > d.BlockSize() {
		return fmt.Errorf("logring: range %d+%d outside block of %d bytes", off, n, d.BlockSize())
	}
	return nil
}

// MemDevice keeps the region in RAM. It counts erases per block.
type MemDevice struct {
	lock      sync.Mutex
	blockSize int
	data      [][]byte
	erases    []int
}

func NewMemDevice(blocks, blockSize int) *MemDevice {
	d := &MemDevice{
		blockSize: blockSize,
		data:      make([][]byte, blocks),
		erases:    make([]int, blocks),
	}
	for i := range d.data {
		d.data[i] = bytes.Repeat([]byte{erased}, blockSize)
	}
	return d
}

func (d *MemDevice) BlockSize() int { return d.blockSize }
func (d *MemDevice) Blocks() int    { return len(d.data) }

func (d *MemDevice) ReadAt(block, off int, p []byte) error {
	if err := checkRange(d, block, off, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	copy(p, d.data[block][off:])
	return nil
}

func (d *MemDevice) Erase(block int) error {
	if err := checkRange(d, block, 0, 0); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	for i := range d.data[block] {
		d.data[block][i] = erased
	}
	d.erases[block]++
	return nil
}

func (d *MemDevice) Program(block int, p []byte) error {
	if err := checkRange(d, block, 0, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	// programming can only clear bits
	for i, b := range p {
		d.data[block][i] &= b
	}
	return nil
}

func (d *MemDevice) EraseCount(block int) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.erases[block]
}

// FileDevice maps the region onto an image file.
type FileDevice struct {
	lock      sync.Mutex
	f         *os.File
	blocks    int
	blockSize int
}

// OpenFileDevice opens or creates the image. A new image starts erased.
func OpenFileDevice(path string, blocks, blockSize int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logring: open image: %w", err)
	}
	d := &FileDevice{f: f, blocks: blocks, blockSize: blockSize}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logring: stat image: %w", err)
	}
	if st.Size() < int64(blocks*blockSize) {
		for b := 0; b < blocks; b++ {
			if err := d.Erase(b); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return d, nil
}

func (d *FileDevice) BlockSize() int { return d.blockSize }
func (d *FileDevice) Blocks() int    { return d.blocks }

func (d *FileDevice) ReadAt(block, off int, p []byte) error {
	if err := checkRange(d, block, off, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	_, err := d.f.ReadAt(p, int64(block*d.blockSize+off))
	return err
}

func (d *FileDevice) Erase(block int) error {
	return d.write(block, bytes.Repeat([]byte{erased}, d.blockSize))
}

func (d *FileDevice) Program(block int, p []byte) error {
	return d.write(block, p)
}

func (d *FileDevice) write(block int, p []byte) error {
	if err := checkRange(d, block, 0, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, err := d.f.WriteAt(p, int64(block*d.blockSize)); err != nil {
		return fmt.Errorf("logring: write block %d: %w", block, err)
	}
	return d.f.Sync()
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
