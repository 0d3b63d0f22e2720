// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import "errors"

var (
	errNilWriter      = errors.New("nil raw packet writer")
	errBadInlineKey   = errors.New("inline key material does not match the crypto suite")
	errUnknownSuite   = errors.New("unknown SDES crypto suite")
	errAlreadyStarted = errors.New("negotiation already started")
	errEngineClosed   = errors.New("transform engine is closed")
)
