package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// BitmapAddress is the display memory address carried by block 0 and
// prepended to the image for the CRC.
var BitmapAddress = []byte{0x00, 0x1C, 0x00, 0x00}

// BitmapEndMarker terminates a bitmap block sequence
var BitmapEndMarker = []byte{OpBitmapEnd, 0x0D, 0x0E}

// bitmapBlockOverhead is the opcode, block index and the address reserved in
// every block so all blocks carry the same data length.
const bitmapBlockOverhead = 2 + 4

// BitmapCRC computes the checksum the glasses verify: CRC-32 (IEEE) over the
// address followed by the image bytes.
func BitmapCRC(image []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(BitmapAddress)
	h.Write(image)
	return h.Sum32()
}

// BitmapFrames is the full frame sequence for one image
type BitmapFrames struct {
	Blocks [][]byte
	End    []byte
	CRC    []byte
}

// All returns blocks, end marker and CRC command in send order
func (b BitmapFrames) All() [][]byte {
	out := make([][]byte, 0, len(b.Blocks)+2)
	out = append(out, b.Blocks...)
	out = append(out, b.End, b.CRC)
	return out
}

// BlockSize returns the image bytes carried per bitmap block
func (e *Encoder) BlockSize() int {
	return e.maxWrite() - bitmapBlockOverhead
}

// EncodeBitmap splits an image into blocks followed by the end marker and the
// CRC command. Block indices wrap at 256.
func (e *Encoder) EncodeBitmap(image []byte) (BitmapFrames, error) {
	if len(image) == 0 {
		return BitmapFrames{}, fmt.Errorf("%w: bitmap", ErrEmptyPayload)
	}
	size := e.BlockSize()
	if size <= 0 {
		return BitmapFrames{}, fmt.Errorf("codec: max write %d too small for bitmap blocks", e.maxWrite())
	}

	var frames BitmapFrames
	for i, start := 0, 0; start < len(image); i, start = i+1, start+size {
		end := start + size
		if end > len(image) {
			end = len(image)
		}
		block := make([]byte, 0, bitmapBlockOverhead+end-start)
		block = append(block, OpBitmapBlock, byte(i))
		if i == 0 {
			block = append(block, BitmapAddress...)
		}
		block = append(block, image[start:end]...)
		frames.Blocks = append(frames.Blocks, block)
	}

	frames.End = append([]byte{}, BitmapEndMarker...)
	frames.CRC = make([]byte, 5)
	frames.CRC[0] = OpBitmapCRC
	binary.BigEndian.PutUint32(frames.CRC[1:], BitmapCRC(image))
	return frames, nil
}

// BitmapAssembler rebuilds an image from bitmap frames and verifies its CRC
type BitmapAssembler struct {
	image    []byte
	next     int
	complete bool
}

// Add feeds one bitmap frame. After the CRC frame it reports whether the
// checksum matched; before that, done is false.
func (a *BitmapAssembler) Add(frame []byte) (done, ok bool, err error) {
	if len(frame) == 0 {
		return false, false, fmt.Errorf("%w: empty bitmap frame", ErrMalformedChunk)
	}
	switch frame[0] {
	case OpBitmapBlock:
		if len(frame) < 2 {
			return false, false, fmt.Errorf("%w: bitmap block of %d bytes", ErrMalformedChunk, len(frame))
		}
		if int(frame[1]) != a.next&0xFF {
			return false, false, fmt.Errorf("%w: bitmap block %d, expected %d", ErrMalformedChunk, frame[1], a.next&0xFF)
		}
		data := frame[2:]
		if a.next == 0 {
			if len(data) < len(BitmapAddress) || !bytes.Equal(data[:len(BitmapAddress)], BitmapAddress) {
				return false, false, fmt.Errorf("%w: bitmap block 0 missing address", ErrMalformedChunk)
			}
			data = data[len(BitmapAddress):]
		}
		a.image = append(a.image, data...)
		a.next++
		return false, false, nil
	case OpBitmapEnd:
		if !bytes.Equal(frame, BitmapEndMarker) {
			return false, false, fmt.Errorf("%w: bad bitmap end marker", ErrMalformedChunk)
		}
		a.complete = true
		return false, false, nil
	case OpBitmapCRC:
		if len(frame) != 5 {
			return false, false, fmt.Errorf("%w: bitmap crc of %d bytes", ErrMalformedChunk, len(frame))
		}
		want := binary.BigEndian.Uint32(frame[1:])
		return true, a.complete && BitmapCRC(a.image) == want, nil
	}
	return false, false, fmt.Errorf("%w: opcode 0x%02X is not a bitmap frame", ErrMalformedChunk, frame[0])
}

// Image returns the bytes assembled so far
func (a *BitmapAssembler) Image() []byte {
	return a.image
}

// Reset discards any partial image
func (a *BitmapAssembler) Reset() {
	*a = BitmapAssembler{}
}
