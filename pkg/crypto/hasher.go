package crypto

import (
	stdcrypto "crypto"
	"crypto/sha256"
	"encoding/hex"
)

// sha256type is the crypto.Hash identifier RSA-PSS needs to build its
// SHA-256 digest info.
const sha256type = stdcrypto.SHA256

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the raw 32-byte SHA-256 digest of data.
func SHA256Bytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ChainHash computes the audit chain linkage hash:
// SHA256(prevChainHash || payloadSHA256Hex-as-bytes-of-its-hex-decoding).
// prev and payloadSHA256 are both raw 32-byte digests.
func ChainHash(prev [32]byte, payloadSHA256 [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], prev[:])
	copy(buf[32:], payloadSHA256[:])
	return sha256.Sum256(buf)
}

// GenesisChainHash is the prev_chain_hash value for the first record in a
// fresh audit chain: 32 zero bytes.
var GenesisChainHash = [32]byte{}
