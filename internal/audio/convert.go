// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import "encoding/binary"

// BytesToFloat32 converts PCM16LE bytes to float32 samples in [-1, 1].
// A trailing odd byte is ignored.
func BytesToFloat32(p []byte) []float32 {
	n := len(p) / bytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(p[i*bytesPerSample:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Int16ToBytes serializes int16 samples as PCM16LE.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// Float32ToInt16Bytes converts normalized float32 samples to PCM16LE
// bytes, clamping out-of-range values.
func Float32ToInt16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}
