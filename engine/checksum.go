package engine

import (
	"hash"
	"hash/crc64"
	"io"
	"os"
)

// Asset checksums are CRC64/ISO over the file body. They are stored with
// each completed record and compared on the verify pass.
var crcTable = crc64.MakeTable(crc64.ISO)

// ChecksumWriter tees everything written through it into a running CRC64.
type ChecksumWriter struct {
	dst  io.Writer
	crc  hash.Hash64
	size int64
}

func NewChecksumWriter(dst io.Writer) *ChecksumWriter {
	return &ChecksumWriter{dst: dst, crc: crc64.New(crcTable)}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.dst.Write(p)
	// Only count what the destination accepted.
	cw.crc.Write(p[:n])
	cw.size += int64(n)
	return n, err
}

func (cw *ChecksumWriter) Checksum() uint64    { return cw.crc.Sum64() }
func (cw *ChecksumWriter) BytesWritten() int64 { return cw.size }

// ChecksumFile returns the size and checksum of the file at path.
func ChecksumFile(path string, buffers *BufferPool) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	buf := buffers.Get()
	defer buffers.Put(buf)

	cw := NewChecksumWriter(io.Discard)
	if _, err := io.CopyBuffer(cw, f, *buf); err != nil {
		return 0, 0, err
	}
	return cw.BytesWritten(), cw.Checksum(), nil
}
