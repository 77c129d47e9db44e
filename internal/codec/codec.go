// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package codec converts inbound audio frames to raw PCM16LE. The PCM
// passthrough lives here; compressed codecs live in cgo subpackages and
// are registered by the binary entrypoint.
package codec

// Decoder turns one transport frame into PCM16LE mono bytes at the
// session sample rate.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// Factory builds a decoder for one session at the given sample rate.
type Factory func(sampleRate int) (Decoder, error)

// PCM is the identity decoder for clients that already send PCM16LE.
type PCM struct{}

func (PCM) Decode(frame []byte) ([]byte, error) {
	return frame, nil
}

// NewPCM is the Factory for raw PCM input.
func NewPCM(int) (Decoder, error) {
	return PCM{}, nil
}
