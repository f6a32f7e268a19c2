package preprocessing

// PadAudio returns audio zero-padded or truncated to exactly targetLen
// samples. paddedIndx is targetLen/len(audio) when padding happened and 1
// otherwise, so the real signal covers the first 1/paddedIndx of the clip.
func PadAudio(audio []float64, targetLen int) (out []float64, paddedIndx float64) {
	out = make([]float64, targetLen)
	copy(out, audio)
	if len(audio) < targetLen && len(audio) > 0 {
		return out, float64(targetLen) / float64(len(audio))
	}
	return out, 1
}
