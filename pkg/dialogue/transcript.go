package dialogue

import "strings"

// turnRecord is one completed utterance kept purely to build the
// transcript text handed to a summariser or judge agent; it is separate
// from the per-agent message ledgers that are actually sent back to the
// providers.
type turnRecord struct {
	Role string
	Text string
}

// renderTranscript joins turns into the block of text a third agent
// (discussion summariser, debate judge) reads as its one user turn.
func renderTranscript(turns []turnRecord) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("### ")
		b.WriteString(t.Role)
		b.WriteString("\n")
		b.WriteString(t.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}
