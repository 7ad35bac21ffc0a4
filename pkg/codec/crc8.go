package codec

// crc8Init is the seed the settings firmware passes for ATE checksums
const crc8Init = 0xFF

// crc8Poly is the CCITT polynomial x^8 + x^2 + x + 1
const crc8Poly = 0x07

var crc8Table = makeCRC8Table()

func makeCRC8Table() [256]uint8 {
	var table [256]uint8
	for i := range table {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC8 computes the CRC-8/CCITT checksum used by the settings firmware.
// MSB first, no reflection, no final xor.
func CRC8(data []byte) uint8 {
	return UpdateCRC8(crc8Init, data)
}

// UpdateCRC8 continues a checksum from a previous value
func UpdateCRC8(crc uint8, data []byte) uint8 {
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
