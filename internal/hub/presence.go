package hub

import "collab-board/internal/protocol"

// palette is the fixed set of collaborator colors. Assignment is
// round-robin by room size at join time, so a room larger than the
// palette repeats colors. That is a documented limitation, kept
// deliberately: departed members' colors are not reclaimed early.
var palette = []string{
	"#F87171", // red
	"#FB923C", // orange
	"#FBBF24", // amber
	"#4ADE80", // green
	"#38BDF8", // sky
	"#A78BFA", // violet
	"#F472B6", // pink
	"#2DD4BF", // teal
}

// colorAt returns the color for the nth joiner of a room.
func colorAt(n int) string {
	return palette[n%len(palette)]
}

// presenceFrame materializes the full roster of a room as a presence
// message. Sent on every membership change, never on cursor ticks; the
// roster is resent whole rather than diffed.
func presenceFrame(reg *Registry, boardID uint, yourColor string) ([]byte, error) {
	return protocol.Presence(reg.Members(boardID), yourColor)
}
