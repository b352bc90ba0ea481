package responder

import (
	goerrors "errors"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// PackResponse encodes a response into as many datagrams of at most limit
// bytes as the answers need. Questions are repeated in every datagram.
// Additional records go where they fit and are dropped otherwise
// (RFC 6762 §6: additionals are optional).
func PackResponse(id uint16, questions []message.Question, answers, additionals []message.ResourceRecord, limit int) ([][]byte, error) {
	header := message.Header{ID: id, Flags: protocol.FlagQR | protocol.FlagAA}
	var packets [][]byte

	newBuilder := func() (*message.Builder, error) {
		b := message.NewBuilder(header, limit)
		for _, q := range questions {
			if err := b.AddQuestion(q); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	b, err := newBuilder()
	if err != nil {
		return nil, err
	}
	inPacket := 0
	for _, rr := range answers {
		err := b.AddAnswer(rr)
		if err == nil {
			inPacket++
			continue
		}
		if !goerrors.Is(err, errors.ErrMessageTooLarge) || inPacket == 0 {
			return nil, err
		}
		packets = append(packets, b.Bytes())
		if b, err = newBuilder(); err != nil {
			return nil, err
		}
		if err := b.AddAnswer(rr); err != nil {
			return nil, err
		}
		inPacket = 1
	}
	for _, rr := range additionals {
		if err := b.AddAdditional(rr); err != nil && !goerrors.Is(err, errors.ErrMessageTooLarge) {
			return nil, err
		}
	}
	if inPacket > 0 || len(packets) == 0 {
		packets = append(packets, b.Bytes())
	}
	return packets, nil
}
