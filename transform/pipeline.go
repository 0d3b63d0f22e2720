// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"github.com/jitsi/libjitsi-transform/fec"
)

// ReceivePipeline chains the security layer and FEC recovery on the
// receive path: raw packets are unprotected first, surviving media feeds
// the FEC receiver, and packets reconstructed from parity join the output
// as if they had arrived from the network.
type ReceivePipeline struct {
	transformer PacketTransformer
	receiver    *fec.Receiver
}

// NewReceivePipeline wires a transformer to a FEC receiver. The receiver
// may be nil for streams without FEC protection.
func NewReceivePipeline(t PacketTransformer, r *fec.Receiver) *ReceivePipeline {
	return &ReceivePipeline{transformer: t, receiver: r}
}

// ProcessIncoming runs one batch of raw packets through the pipeline and
// returns the decrypted media plus anything FEC recovery produced. Recovery
// runs once per batch, so a batch may yield more packets than it carried.
func (p *ReceivePipeline) ProcessIncoming(batch [][]byte) [][]byte {
	out := make([][]byte, 0, len(batch))
	for _, raw := range batch {
		dec, err := p.transformer.ReverseTransformRTP(raw)
		if err != nil || dec == nil {
			continue
		}
		if p.receiver != nil {
			p.receiver.Insert(dec)
		}
		out = append(out, dec)
	}

	if p.receiver == nil {
		return out
	}
	for _, pkt := range p.receiver.Recover() {
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// Close closes both stages.
func (p *ReceivePipeline) Close() error {
	if p.receiver != nil {
		p.receiver.Close()
	}
	return p.transformer.Close()
}
