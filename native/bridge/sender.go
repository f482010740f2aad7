package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"crosslend/core/events"
	"crosslend/crypto"
)

var (
	errNilMailbox    = errors.New("bridge sender: mailbox not configured")
	errNilLedger     = errors.New("bridge sender: token ledger not configured")
	errNilPaymaster  = errors.New("bridge sender: paymaster not configured")
	errWrongDomain   = errors.New("bridge sender: destination domain mismatch")
	errInvalidBridge = errors.New("bridge sender: amount must be positive")
	errSenderBalance = errors.New("bridge sender: insufficient custody balance")
)

// TokenLedger retires and issues token supply on behalf of the bridge legs.
type TokenLedger interface {
	Burn(token string, from crypto.Address, amount *big.Int) error
	Mint(token string, to crypto.Address, amount *big.Int) error
	Balance(token string, addr crypto.Address) (*big.Int, error)
}

// Sender is the origin leg of a token bridge lane. Each sender is bound to a
// single destination domain at construction. Bridging burns the tokens
// locally, dispatches a transfer message and journals the dispatch; there is
// no atomicity across the two legs. A failed delivery after a successful burn
// leaves the supply retired with only the journal as evidence.
type Sender struct {
	mailbox     Mailbox
	ledger      TokenLedger
	outbox      *Outbox
	destination uint32
	paymaster   crypto.Address
	emitter     events.Emitter
}

// NewSender constructs the origin leg for destinationDomain. Construction
// fails closed: a sender without a mailbox, ledger or paymaster is refused
// rather than left to fail at dispatch time.
func NewSender(mailbox Mailbox, ledger TokenLedger, destinationDomain uint32, paymaster crypto.Address) (*Sender, error) {
	if mailbox == nil {
		return nil, errNilMailbox
	}
	if ledger == nil {
		return nil, errNilLedger
	}
	if paymaster.IsZero() {
		return nil, errNilPaymaster
	}
	return &Sender{
		mailbox:     mailbox,
		ledger:      ledger,
		destination: destinationDomain,
		paymaster:   paymaster,
		emitter:     events.NoopEmitter{},
	}, nil
}

// SetOutbox wires the durable dispatch journal.
func (s *Sender) SetOutbox(outbox *Outbox) {
	if s == nil {
		return
	}
	s.outbox = outbox
}

// SetEmitter wires the event sink.
func (s *Sender) SetEmitter(emitter events.Emitter) {
	if s == nil || emitter == nil {
		return
	}
	s.emitter = emitter
}

// DestinationDomain returns the domain this sender is bound to.
func (s *Sender) DestinationDomain() uint32 { return s.destination }

// Quote returns the messaging fee for a transfer to destinationDomain.
func (s *Sender) Quote(destinationDomain uint32) (*big.Int, error) {
	if s == nil || s.mailbox == nil {
		return nil, errNilMailbox
	}
	if destinationDomain != s.destination {
		return nil, errWrongDomain
	}
	blank := make([]byte, payloadLength)
	return s.mailbox.QuoteDispatch(destinationDomain, blank)
}

// FeeCollector returns the account credited with messaging fees.
func (s *Sender) FeeCollector() crypto.Address { return s.paymaster }

// Bridge burns amount of token held by from and dispatches a message minting
// it to recipient on the destination domain. The hex message identifier is
// returned.
//
// The burn commits before the dispatch. A dispatch failure therefore leaves
// the local supply already retired; callers decide how to surface that.
func (s *Sender) Bridge(from crypto.Address, amount *big.Int, recipient crypto.Address, token string) (string, error) {
	if s == nil || s.mailbox == nil {
		return "", errNilMailbox
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", errInvalidBridge
	}
	balance, err := s.ledger.Balance(token, from)
	if err != nil {
		return "", err
	}
	if balance.Cmp(amount) < 0 {
		return "", errSenderBalance
	}
	payload, err := EncodeTransfer(recipient, amount)
	if err != nil {
		return "", err
	}

	if err := s.ledger.Burn(token, from, amount); err != nil {
		return "", err
	}
	id, err := s.mailbox.Dispatch(s.destination, payload)
	if err != nil {
		return "", fmt.Errorf("bridge sender: dispatch after burn: %w", err)
	}
	if s.outbox != nil {
		record := OutboxRecord{
			MessageID:         id.String(),
			DestinationDomain: s.destination,
			Token:             token,
			Recipient:         recipient.String(),
			Amount:            amount.String(),
			DispatchedAt:      time.Now().UTC(),
		}
		if err := s.outbox.Append(record); err != nil {
			return "", fmt.Errorf("bridge sender: journal dispatch %s: %w", id, err)
		}
	}

	s.emitter.Emit(events.BridgeDispatched{
		Token:             token,
		Amount:            new(big.Int).Set(amount),
		Recipient:         recipient,
		DestinationDomain: s.destination,
		MessageID:         id.String(),
	})
	return id.String(), nil
}
