package events

import (
	"math/big"

	"crosslend/crypto"
)

const (
	TypeBridgeDispatched = "bridge.dispatched"
	TypeBridgeMinted     = "bridge.minted"
)

// BridgeDispatched is emitted on the origin domain after the local burn and
// message dispatch succeed. It is the last locally observable step of a
// cross-domain transfer.
type BridgeDispatched struct {
	Token             string
	Amount            *big.Int
	Recipient         crypto.Address
	DestinationDomain uint32
	MessageID         string
	Fee               *big.Int
}

func (BridgeDispatched) EventType() string { return TypeBridgeDispatched }

// BridgeMinted is emitted on the destination domain when the receiver mints
// the local equivalent of a bridged amount.
type BridgeMinted struct {
	Token        string
	Amount       *big.Int
	Recipient    crypto.Address
	OriginDomain uint32
}

func (BridgeMinted) EventType() string { return TypeBridgeMinted }
