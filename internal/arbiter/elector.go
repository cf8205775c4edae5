package arbiter

import "github.com/kstaniek/sv-arbitrator/internal/svframe"

// Elect reports whether a frame published by mu should be republished,
// given the currently active MU. It is the entire election component: a
// single comparison, isolated so its correctness is easy to audit in
// isolation from the FSMs that feed it (spec 4.5).
func Elect(mu, active svframe.MUIndex) bool {
	return mu == active
}
