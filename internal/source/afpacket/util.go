package afpacket

import (
	"fmt"
)

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, approximate

	// Block size ceiling; keeps the LCM below from producing huge mmaps.
	maxBlockSize = 4 << 20
)

// recomputeSize derives the ring geometry from the configured memory budget.
// PACKET_MMAP constrains the result: the frame must be a multiple of
// TPACKET_ALIGNMENT, and a block must hold a whole number of both pages and
// frames.
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	switch {
	case ringBufferSizeMB <= 0:
		return 0, 0, 0, fmt.Errorf("ringBufferSizeMB must be positive, got %d", ringBufferSizeMB)
	case snapLen <= 0:
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	// A frame holds the TPACKET header plus the snapped packet.
	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	// Smallest block satisfying both divisibility constraints. Awkward frame
	// sizes can blow the LCM past the ceiling; padding the frame out to whole
	// pages then makes the frame itself a valid block.
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		frameSize = alignUp(frameSize, pageSize)
		blockSize = frameSize
	}

	// Pack as many frames per block as the budget and the ceiling allow;
	// larger blocks mean fewer poll wakeups.
	budget := ringBufferSizeMB * 1024 * 1024
	ceiling := budget
	if ceiling > maxBlockSize {
		ceiling = maxBlockSize
	}
	if n := ceiling / blockSize; n > 1 {
		blockSize *= n
	}

	numBlocks = budget / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	return frameSize, blockSize, numBlocks, nil
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func lcm(a, b int) int {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}
