package ledger

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// DeriveTokenID computes the id of a token minted by a transaction whose
// first input is (txID, index): BLAKE3(txID || index).
func DeriveTokenID(txID types.Hash, index uint32) types.TokenID {
	var buf [types.HashSize + 4]byte
	copy(buf[:types.HashSize], txID[:])
	binary.LittleEndian.PutUint32(buf[types.HashSize:], index)
	return types.TokenID(crypto.Hash(buf[:]))
}

// ChildMetadata describes a minted child token.
type ChildMetadata struct {
	Name         string
	Ticker       string
	DocumentURI  string
	DocumentHash string
}

// EncodeMintData encodes a recipient and child metadata into the Data of a
// mint script:
//
//	address(20) | decimals(1) | len+name | len+ticker | len+uri | len+hash
//
// Each string is cut to 255 bytes. Nodes that only read up to the ticker
// ignore the trailing document fields.
func EncodeMintData(addr types.Address, meta ChildMetadata) []byte {
	buf := make([]byte, 0, types.AddressSize+1+4+len(meta.Name)+len(meta.Ticker)+len(meta.DocumentURI)+len(meta.DocumentHash))
	buf = append(buf, addr[:]...)
	buf = append(buf, 0) // NFTs are indivisible.
	for _, s := range []string{meta.Name, meta.Ticker, meta.DocumentURI, meta.DocumentHash} {
		b := []byte(s)
		if len(b) > 255 {
			b = b[:255]
		}
		buf = append(buf, byte(len(b)))
		buf = append(buf, b...)
	}
	return buf
}

// DecodeMintData reverses EncodeMintData. ok is false when data is too short
// to hold an address; missing trailing fields decode as empty.
func DecodeMintData(data []byte) (addr types.Address, meta ChildMetadata, ok bool) {
	if len(data) < types.AddressSize {
		return addr, meta, false
	}
	copy(addr[:], data[:types.AddressSize])
	off := types.AddressSize + 1 // skip decimals

	fields := []*string{&meta.Name, &meta.Ticker, &meta.DocumentURI, &meta.DocumentHash}
	for _, f := range fields {
		if off >= len(data) {
			break
		}
		n := int(data[off])
		off++
		if off+n > len(data) {
			break
		}
		*f = string(data[off : off+n])
		off += n
	}
	return addr, meta, true
}
