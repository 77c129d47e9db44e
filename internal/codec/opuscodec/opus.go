// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package opuscodec decodes Opus packets to PCM16LE. It links libopus
// through cgo, so only the binary entrypoint imports it; sessions see
// it as a codec.Decoder.
package opuscodec

import (
	"fmt"

	"github.com/hraban/opus"

	"github.com/lifetrace/go_voice_stream/internal/audio"
	"github.com/lifetrace/go_voice_stream/internal/codec"
)

// maxFrameMs is the largest Opus frame duration the decoder accepts.
const maxFrameMs = 120

// Decoder decodes one Opus packet per transport frame to mono PCM16LE.
type Decoder struct {
	dec *opus.Decoder
	pcm []int16
}

// New returns a codec.Factory producing Opus decoders at sampleRate.
func New(sampleRate int) (codec.Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Decoder{
		dec: dec,
		pcm: make([]int16, sampleRate*maxFrameMs/1000),
	}, nil
}

func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return audio.Int16ToBytes(d.pcm[:n]), nil
}
