package bridge

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"crosslend/crypto"
)

// Transfer payloads are two 32-byte words: the recipient address left-padded
// into the first word and the amount as a big-endian unsigned integer in the
// second. Both domains must agree on this layout byte for byte.
const payloadLength = 64

var (
	errPayloadLength  = errors.New("bridge: transfer payload must be 64 bytes")
	errPayloadPadding = errors.New("bridge: recipient word has non-zero padding")
	errAmountRange    = errors.New("bridge: amount exceeds 256 bits")
)

// EncodeTransfer packs a recipient and amount into the wire payload.
func EncodeTransfer(recipient crypto.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errAmountRange
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errAmountRange
	}
	buf := make([]byte, payloadLength)
	copy(buf[12:32], recipient.Bytes())
	value := word.Bytes32()
	copy(buf[32:], value[:])
	return buf, nil
}

// DecodeTransfer unpacks the wire payload produced by EncodeTransfer. The
// recipient is returned as raw address bytes; the caller attaches the prefix
// of its own domain.
func DecodeTransfer(payload []byte) ([]byte, *big.Int, error) {
	if len(payload) != payloadLength {
		return nil, nil, errPayloadLength
	}
	for _, b := range payload[:12] {
		if b != 0 {
			return nil, nil, errPayloadPadding
		}
	}
	recipient := make([]byte, 20)
	copy(recipient, payload[12:32])
	amount := new(uint256.Int).SetBytes(payload[32:])
	return recipient, amount.ToBig(), nil
}
