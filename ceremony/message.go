package ceremony

import (
	"errors"
	"fmt"

	"github.com/ruteri/tee-signer-fabric/scale"
)

type MessageKind uint8

const (
	NonceShare MessageKind = iota
	PartialSignatureShare
	KillCeremony
)

var ErrInvalidMessage = errors.New("invalid ceremony message")

func (k MessageKind) String() string {
	switch k {
	case NonceShare:
		return "nonce_share"
	case PartialSignatureShare:
		return "partial_signature_share"
	case KillCeremony:
		return "kill_ceremony"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Message is what travels as the payload of a bitacross_submitRequest call.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

func (m Message) Encode() []byte {
	e := scale.NewEncoder()
	e.WriteU8(uint8(m.Kind))
	e.WriteBytes(m.Payload)
	return e.Bytes()
}

func DecodeMessage(data []byte) (Message, error) {
	d := scale.NewDecoder(data)
	kind, err := d.ReadU8()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if MessageKind(kind) > KillCeremony {
		return Message{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidMessage, kind)
	}
	payload, err := d.ReadBytes()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := d.Finish(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return Message{Kind: MessageKind(kind), Payload: payload}, nil
}
