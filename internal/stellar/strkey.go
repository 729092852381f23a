package stellar

import "encoding/base32"

// Strkey version bytes. An encoded key is 56 base32 characters decoding to
// one version byte, a 32-byte payload and a 2-byte CRC16-XModem checksum.
const (
	versionAccount  = 6 << 3 // 'G...'
	versionContract = 2 << 3 // 'C...'
)

var strkeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// IsValidAccountAddress reports whether s is a well-formed account address
// ('G' prefix, correct length and checksum).
func IsValidAccountAddress(s string) bool {
	return validStrkey(s, versionAccount)
}

// IsValidContractAddress reports whether s is a well-formed contract address
// ('C' prefix, correct length and checksum).
func IsValidContractAddress(s string) bool {
	return validStrkey(s, versionContract)
}

func validStrkey(s string, version byte) bool {
	if len(s) != 56 {
		return false
	}
	raw, err := strkeyEncoding.DecodeString(s)
	if err != nil || len(raw) != 35 {
		return false
	}
	if raw[0] != version {
		return false
	}
	want := uint16(raw[33]) | uint16(raw[34])<<8
	return crc16(raw[:33]) == want
}

// crc16 implements CRC16-XModem, the checksum used by strkey encoding.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
