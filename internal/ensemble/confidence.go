package ensemble

// agreementBonus is the maximum confidence reward for full cross-engine
// agreement on the elected text.
const agreementBonus = 0.05

// AggregateConfidence computes a merged block's confidence from its members
// and the elected text. A singleton keeps its own score. Larger groups get
// the mean of the member confidences plus an agreement bonus proportional to
// the share of members whose normalized text matches the elected text,
// capped at 1.0.
func AggregateConfidence(members []Block, electedText string) float64 {
	if len(members) == 0 {
		return 0
	}
	if len(members) == 1 {
		return members[0].Confidence
	}

	var sum float64
	agreeing := 0
	elected := NormalizedText(electedText)
	for _, m := range members {
		sum += m.Confidence
		if NormalizedText(m.Text) == elected {
			agreeing++
		}
	}

	confidence := sum/float64(len(members)) + agreementBonus*float64(agreeing)/float64(len(members))
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
