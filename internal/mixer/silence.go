package mixer

// silenceThreshold is the 0.1% of full-scale amplitude below which a
// 16-bit sample is treated as silence for trimming. 32767 * 0.001 ≈ 33.
const silenceThreshold = 33

// trimLeadingSilence drops leading near-silent 16-bit LE sample frames
// from data. If the trim would leave fewer than fadeBytes remaining (the
// crossfade head needs at least fadeBytes to build the fade-in), it falls
// back to an untrimmed cut: data verbatim.
func trimLeadingSilence(data []byte, fadeBytes int) []byte {
	cut := 0
	for cut+1 < len(data) {
		if !isSilentSample(data[cut], data[cut+1]) {
			break
		}
		cut += 2
	}
	trimmed := data[cut:]
	if len(trimmed) < fadeBytes {
		return data
	}
	return trimmed
}

// trimTrailingSilence drops trailing near-silent sample frames from data,
// working backward from the end. Falls back to an untrimmed cut if the
// result would be shorter than fadeBytes.
func trimTrailingSilence(data []byte, fadeBytes int) []byte {
	end := len(data)
	for end-2 >= 0 {
		if !isSilentSample(data[end-2], data[end-1]) {
			break
		}
		end -= 2
	}
	trimmed := data[:end]
	if len(trimmed) < fadeBytes {
		return data
	}
	return trimmed
}

func isSilentSample(lo, hi byte) bool {
	v := int(int16(uint16(lo) | uint16(hi)<<8))
	if v < 0 {
		v = -v
	}
	return v < silenceThreshold
}
