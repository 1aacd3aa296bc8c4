package conv

// ViewportThreshold is the fraction of the conversation widget that must
// intersect the viewport for it to count as on-screen.
const ViewportThreshold = 0.25

// Gate holds the three visibility observations that gate automatic read
// acknowledgement. It carries no other business state; the hosting view
// feeds it and the receipt rules read it.
type Gate struct {
	TabVisible bool
	AtBottom   bool
	OnScreen   bool
}

// A freshly opened conversation starts fully visible, matching a view that
// scrolls to the newest message on open.
func newGate() Gate {
	return Gate{TabVisible: true, AtBottom: true, OnScreen: true}
}

// AutoRead reports whether a read acknowledgement may fire automatically:
// foreground tab, scrolled to the bottom, and widget on-screen.
func (g Gate) AutoRead() bool {
	return g.TabVisible && g.AtBottom && g.OnScreen
}

// WantsScrollSignal reports whether an incoming message should ask the host
// to scroll the conversation into view rather than silently count unread.
func (g Gate) WantsScrollSignal() bool {
	return g.TabVisible && !g.OnScreen
}
