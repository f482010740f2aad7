package bridge

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crosslend/crypto"
)

var (
	errNoRoute        = errors.New("bridge: no handler registered for domain")
	errUnknownMessage = errors.New("bridge: unknown message id")
)

// MessageID uniquely identifies a dispatched message across domains.
type MessageID [32]byte

func (id MessageID) String() string { return fmt.Sprintf("0x%x", id[:]) }

// ParseMessageID decodes the 0x-prefixed hex form produced by String.
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return MessageID{}, fmt.Errorf("bridge: parse message id: %w", err)
	}
	if len(raw) != len(id) {
		return MessageID{}, fmt.Errorf("bridge: message id must be %d bytes", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// Mailbox is the generic messaging transport the bridge legs ride on. It
// offers at-least-once delivery with no ordering guarantee; duplicate and
// reordered deliveries are the receiver's problem.
type Mailbox interface {
	// Dispatch queues payload for delivery to the handler serving the
	// destination domain and returns the message identifier.
	Dispatch(destinationDomain uint32, payload []byte) (MessageID, error)
	// QuoteDispatch returns the messaging fee for delivering payload.
	QuoteDispatch(destinationDomain uint32, payload []byte) (*big.Int, error)
	// LocalDomain identifies the domain this mailbox instance serves.
	LocalDomain() uint32
	// Identity is the address the mailbox presents when invoking handlers.
	Identity() crypto.Address
}

// Handler consumes messages delivered by a mailbox.
type Handler interface {
	Handle(originDomain uint32, caller crypto.Address, payload []byte) error
}

type storedMessage struct {
	origin      uint32
	destination uint32
	payload     []byte
}

// LoopbackMailbox wires domains together inside a single process. Dispatch
// delivers synchronously to the handler registered for the destination
// domain; Redeliver replays a stored message to exercise at-least-once
// semantics.
type LoopbackMailbox struct {
	mu       sync.Mutex
	domain   uint32
	identity crypto.Address
	fee      *big.Int
	nonce    uint64
	handlers map[uint32]Handler
	messages map[MessageID]storedMessage
}

// NewLoopbackMailbox constructs a mailbox serving localDomain, presenting
// identity to handlers and quoting a flat fee per dispatch.
func NewLoopbackMailbox(localDomain uint32, identity crypto.Address, fee *big.Int) *LoopbackMailbox {
	if fee == nil {
		fee = big.NewInt(0)
	}
	return &LoopbackMailbox{
		domain:   localDomain,
		identity: identity,
		fee:      new(big.Int).Set(fee),
		handlers: make(map[uint32]Handler),
		messages: make(map[MessageID]storedMessage),
	}
}

// RegisterHandler binds handler as the recipient for messages addressed to
// domain.
func (m *LoopbackMailbox) RegisterHandler(domain uint32, handler Handler) {
	if m == nil || handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[domain] = handler
}

// LocalDomain implements Mailbox.
func (m *LoopbackMailbox) LocalDomain() uint32 { return m.domain }

// Identity implements Mailbox.
func (m *LoopbackMailbox) Identity() crypto.Address { return m.identity }

// QuoteDispatch implements Mailbox.
func (m *LoopbackMailbox) QuoteDispatch(uint32, []byte) (*big.Int, error) {
	return new(big.Int).Set(m.fee), nil
}

// Dispatch implements Mailbox. Delivery happens inline; a handler error fails
// the dispatch.
func (m *LoopbackMailbox) Dispatch(destinationDomain uint32, payload []byte) (MessageID, error) {
	m.mu.Lock()
	handler, ok := m.handlers[destinationDomain]
	if !ok {
		m.mu.Unlock()
		return MessageID{}, fmt.Errorf("%w: %d", errNoRoute, destinationDomain)
	}
	m.nonce++
	id := messageID(m.domain, destinationDomain, m.nonce, payload)
	stored := storedMessage{origin: m.domain, destination: destinationDomain, payload: append([]byte(nil), payload...)}
	m.messages[id] = stored
	m.mu.Unlock()

	if err := handler.Handle(m.domain, m.identity, payload); err != nil {
		return MessageID{}, err
	}
	return id, nil
}

// Redeliver replays a previously dispatched message to its handler. Used to
// simulate the duplicate deliveries the transport permits.
func (m *LoopbackMailbox) Redeliver(id MessageID) error {
	m.mu.Lock()
	stored, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return errUnknownMessage
	}
	handler, ok := m.handlers[stored.destination]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", errNoRoute, stored.destination)
	}
	return handler.Handle(stored.origin, m.identity, stored.payload)
}

func messageID(origin, destination uint32, nonce uint64, payload []byte) MessageID {
	header := make([]byte, 16)
	binary.BigEndian.PutUint32(header[0:4], origin)
	binary.BigEndian.PutUint32(header[4:8], destination)
	binary.BigEndian.PutUint64(header[8:16], nonce)
	var id MessageID
	copy(id[:], ethcrypto.Keccak256(header, payload))
	return id
}
