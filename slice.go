package hellofs

// boundedSlice returns the part of buf a paginated reader asking for at
// most maxSize bytes at offset should receive. An offset at or past the end
// yields an empty result; a window running past the end is trimmed.
// File reads and directory reads both go through here so the two can
// never disagree on where a buffer ends.
//
// The result aliases buf with its capacity clipped, so appending to it
// never writes into buf.
func boundedSlice(buf []byte, offset int64, maxSize uint32) []byte {
	if offset < 0 {
		precondition("slice", "negative offset %d", offset)
	}
	size := int64(len(buf))
	if offset >= size {
		return nil
	}
	end := offset + int64(maxSize)
	if end > size {
		end = size
	}
	return buf[offset:end:end]
}
