package stream

// TSPacketSize is the fixed MPEG-TS packet length.
const TSPacketSize = 188

// tsSyncByte starts every MPEG-TS packet.
const tsSyncByte = 0x47

// nullPacketCount is how many null packets one keepalive burst carries.
// Seven packets fill a typical 1316-byte UDP-style payload and are enough
// to keep client socket timeouts from firing.
const nullPacketCount = 7

// NullPacket returns one MPEG-TS null packet (PID 0x1FFF). Null packets
// carry no payload and are discarded by every demuxer, so they can be
// interleaved with real data at any 188-byte boundary.
func NullPacket(continuity byte) []byte {
	pkt := make([]byte, TSPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = 0x1F // PID high bits of 0x1FFF
	pkt[2] = 0xFF // PID low bits
	pkt[3] = 0x10 | (continuity & 0x0F)
	for i := 4; i < TSPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// KeepaliveBurst builds a burst of null packets with advancing continuity
// counters starting at start, returning the burst and the next counter.
func KeepaliveBurst(start byte) ([]byte, byte) {
	burst := make([]byte, 0, nullPacketCount*TSPacketSize)
	cc := start
	for i := 0; i < nullPacketCount; i++ {
		burst = append(burst, NullPacket(cc)...)
		cc = (cc + 1) & 0x0F
	}
	return burst, cc
}

// AlignToPackets trims b to a whole number of TS packets, returning the
// aligned prefix and the remainder. Emitting only whole packets keeps
// the boundary clean when delivery switches between content and slate.
func AlignToPackets(b []byte) (aligned, rest []byte) {
	n := len(b) / TSPacketSize * TSPacketSize
	return b[:n], b[n:]
}
