// Package codec provides the on-flash record primitives of the settings store.
//
// The settings store is a sector based, append-only key-value layout. Every
// record is described by an Allocation Table Entry (ATE) written from the top
// of a sector downward, while the record payload is written from the bottom of
// the sector upward.
//
// # ATE Format
//
// ATEs are 8 bytes long and little-endian:
//
//	[RecordID(2)][DataOffset(2)][DataLen(2)][Part(1)][CRC8(1)]
//
// Fields:
//   - RecordID: identifier of the record. Key records use NameIDBase+n, the
//     matching value record carries ValueIDFlag on top of the key id
//   - DataOffset: offset of the payload, relative to the sector base
//   - DataLen: unpadded payload length in bytes
//   - Part: always 0xFF for this store
//   - CRC8: CRC-8/CCITT (poly 0x07, init 0xFF) over the preceding 7 bytes
//
// An ATE made only of 0xFF bytes is the unpopulated sentinel: erased flash.
// The last ATE slot of a sector is the closing ATE; a sector whose closing
// slot still holds the sentinel is open.
//
// # Payload Alignment
//
// Payloads are word aligned. Pad extends data with 0xFF, the erased value of
// the flash, never with zeroes.
//
// # Usage
//
//	ate := codec.EncodeATE(0x8001, 0, 21)
//	decoded, err := codec.DecodeATE(ate[:])
//	if err != nil {
//	    return err
//	}
//	if !decoded.CRCOK {
//	    // not trustworthy, keep looking
//	}
//
// Decoding never fails on a checksum mismatch. It reports CRCOK=false so that
// scanners can treat the entry as noise and continue.
package codec
