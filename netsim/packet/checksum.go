// SPDX-License-Identifier: GPL-3.0-or-later

//
// RFC 1071 Internet checksum.
//

package packet

// onesComplementSum computes the one's-complement sum of the
// given bytes, interpreted as big-endian 16-bit words. An odd
// trailing byte is padded with zero.
func onesComplementSum(data []byte) uint32 {
	var sum uint32
	for len(data) >= 2 {
		sum += uint32(data[0])<<8 | uint32(data[1])
		data = data[2:]
	}
	if len(data) == 1 {
		sum += uint32(data[0]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum
}

// InternetChecksum computes the Internet checksum of data: the
// one's complement of the one's-complement sum of its 16-bit words.
func InternetChecksum(data []byte) uint16 {
	return ^uint16(onesComplementSum(data))
}
