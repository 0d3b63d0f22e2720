// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package fec

import (
	"errors"
	"fmt"
)

var (
	errHeaderTooShort   = errors.New("FEC header shorter than scheme minimum")
	errMultiSSRC        = errors.New("multi-SSRC protection not supported")
	errPayloadTooLarge  = errors.New("FEC payload exceeds recovery buffer")
	errRecoveredTooLong = errors.New("recovered length exceeds recovery buffer")
	errProtectedMissing = errors.New("protected packet vanished during recovery")
	errShortMediaPacket = errors.New("protected media packet shorter than an RTP header")
)

type errMalformedFEC struct {
	Scheme string
	Reason error
}

func (e *errMalformedFEC) Error() string {
	return fmt.Sprintf("malformed %s packet: %v", e.Scheme, e.Reason)
}

func (e *errMalformedFEC) Unwrap() error {
	return e.Reason
}
