package wire

import "unsafe"

// AlignedBuffer returns a slice of the requested size whose backing array
// starts at an address that is a multiple of ChunkBase. The server and
// client both need this so that chunk payloads can be handed straight to
// pread/pwrite under O_DIRECT.
func AlignedBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	raw := make([]byte, size+ChunkBase-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (ChunkBase - addr%ChunkBase) % ChunkBase
	return raw[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// PadToChunkBase returns data unchanged if it is already ChunkBase-aligned
// in length, otherwise returns a new aligned buffer of the next ChunkBase
// multiple with data copied in and the remainder zero-filled.
func PadToChunkBase(data []byte) []byte {
	if len(data)%ChunkBase == 0 {
		return data
	}
	padded := AlignedBuffer(((len(data) / ChunkBase) + 1) * ChunkBase)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0
	}
	return padded
}
