package address_lookup_table

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
)

// AddressLookupTab1e1111111111111111111111111
var ProgramKey = ed25519.PublicKey{2, 119, 166, 175, 151, 51, 155, 122, 200, 141, 24, 146, 201, 4, 70, 245, 0, 2, 48, 146, 102, 246, 46, 83, 193, 24, 36, 73, 130, 0, 0, 0}

var (
	ErrInvalidAccountSize = errors.New("invalid address lookup table account size")
	ErrInvalidAccountType = errors.New("invalid account type")
)

const (
	altDescriminator = 1

	metadataSize = 56
	maxAddresses = 256
)

// AddressLookupTableAccount is the on-chain state of an address lookup table.
//
// Reference: https://github.com/solana-program/address-lookup-table/blob/main/program/src/state.rs
type AddressLookupTableAccount struct {
	DeactivationSlot           uint64
	LastExtendedSlot           uint64
	LastExtendedSlotStartIndex uint8
	Authority                  ed25519.PublicKey
	Addresses                  []ed25519.PublicKey
}

func (obj *AddressLookupTableAccount) Unmarshal(data []byte) error {
	if len(data) < metadataSize {
		return ErrInvalidAccountSize
	}

	descriminator := binary.LittleEndian.Uint32(data)
	if descriminator != altDescriminator {
		return ErrInvalidAccountType
	}

	obj.DeactivationSlot = binary.LittleEndian.Uint64(data[4:])
	obj.LastExtendedSlot = binary.LittleEndian.Uint64(data[12:])
	obj.LastExtendedSlotStartIndex = data[20]

	// 1 byte COption tag ahead of the authority key
	if data[21] == 1 {
		obj.Authority = make(ed25519.PublicKey, ed25519.PublicKeySize)
		copy(obj.Authority, data[22:54])
	}

	offset := metadataSize

	addressBufferSize := len(data) - offset
	addressCount := addressBufferSize / ed25519.PublicKeySize
	if addressBufferSize%ed25519.PublicKeySize != 0 {
		return ErrInvalidAccountSize
	} else if addressCount > maxAddresses {
		return ErrInvalidAccountSize
	}

	obj.Addresses = make([]ed25519.PublicKey, addressCount)
	for i := 0; i < addressCount; i++ {
		obj.Addresses[i] = make(ed25519.PublicKey, ed25519.PublicKeySize)
		copy(obj.Addresses[i], data[offset:offset+ed25519.PublicKeySize])
		offset += ed25519.PublicKeySize
	}

	return nil
}
