package bridge

import (
	"errors"
	"fmt"

	"crosslend/core/events"
	"crosslend/crypto"
)

var (
	// ErrNotMailbox is returned when anything other than the configured
	// mailbox invokes the receiver.
	ErrNotMailbox = errors.New("bridge receiver: caller is not the mailbox")

	errNilReceiverDeps = errors.New("bridge receiver: mailbox and ledger are required")
)

// Receiver is the destination leg of a bridge lane. It accepts transfer
// messages exclusively from its configured mailbox and mints the bridged
// token to the encoded recipient.
//
// The mailbox identity check is the only gate. There is no replay tracking
// here; a transport that redelivers a message mints again, mirroring the
// at-least-once contract of the underlying messaging layer.
type Receiver struct {
	mailbox crypto.Address
	ledger  TokenLedger
	token   string
	prefix  crypto.AddressPrefix
	emitter events.Emitter
}

// NewReceiver constructs the destination leg minting token. Recipient address
// bytes decoded from payloads are attached to prefix.
func NewReceiver(mailbox crypto.Address, ledger TokenLedger, token string, prefix crypto.AddressPrefix) (*Receiver, error) {
	if mailbox.IsZero() || ledger == nil {
		return nil, errNilReceiverDeps
	}
	return &Receiver{
		mailbox: mailbox,
		ledger:  ledger,
		token:   token,
		prefix:  prefix,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter wires the event sink.
func (r *Receiver) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.emitter = emitter
}

// Handle implements the mailbox Handler contract.
func (r *Receiver) Handle(originDomain uint32, caller crypto.Address, payload []byte) error {
	if r == nil || r.ledger == nil {
		return errNilReceiverDeps
	}
	if !caller.Equal(r.mailbox) {
		return ErrNotMailbox
	}
	recipientBytes, amount, err := DecodeTransfer(payload)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return errInvalidBridge
	}
	recipient := crypto.NewAddress(r.prefix, recipientBytes)
	if err := r.ledger.Mint(r.token, recipient, amount); err != nil {
		return fmt.Errorf("bridge receiver: mint: %w", err)
	}
	r.emitter.Emit(events.BridgeMinted{
		Token:        r.token,
		Amount:       amount,
		Recipient:    recipient,
		OriginDomain: originDomain,
	})
	return nil
}
