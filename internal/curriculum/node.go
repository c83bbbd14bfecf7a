package curriculum

import (
	"fmt"
	"strconv"
	"strings"
)

// Track identifies which part of the curriculum graph a node is on.
type Track string

const (
	TrackMain     Track = "main"
	TrackRemedial Track = "remedial"
	TrackComplete Track = "complete"
)

// Node is a position in the curriculum graph. Main-track nodes carry a
// phase and step; remedial nodes carry a level and step with Phase 0.
type Node struct {
	Track Track
	Phase int
	Step  int
	Level Level
}

// Initial is the node every new learner starts on.
func Initial() Node {
	return Node{Track: TrackMain, Phase: 1, Step: 1}
}

// Complete is the terminal node.
func Complete() Node {
	return Node{Track: TrackComplete}
}

// Remedial returns step n of the remedial track for level.
func Remedial(level Level, step int) Node {
	return Node{Track: TrackRemedial, Level: level, Step: step}
}

// Main returns step s of phase p on the main track.
func Main(phase, step int) Node {
	return Node{Track: TrackMain, Phase: phase, Step: step}
}

// IsTerminal reports whether n is the complete node.
func (n Node) IsTerminal() bool { return n.Track == TrackComplete }

// Key is the stable string form used for storage and memoization.
//
//	main/p1/s2, remedial/B1/s1, complete
func (n Node) Key() string {
	switch n.Track {
	case TrackMain:
		return fmt.Sprintf("main/p%d/s%d", n.Phase, n.Step)
	case TrackRemedial:
		return fmt.Sprintf("remedial/%s/s%d", n.Level, n.Step)
	case TrackComplete:
		return "complete"
	default:
		return "invalid"
	}
}

func (n Node) String() string {
	switch n.Track {
	case TrackMain:
		return fmt.Sprintf("Phase %d, Step %d", n.Phase, n.Step)
	case TrackRemedial:
		return fmt.Sprintf("Remedial %s, Step %d", n.Level, n.Step)
	case TrackComplete:
		return "Complete"
	default:
		return "?"
	}
}

// ParseNodeKey is the inverse of Node.Key.
func ParseNodeKey(key string) (Node, error) {
	if key == "complete" {
		return Complete(), nil
	}
	parts := strings.Split(key, "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "s") {
		return Node{}, fmt.Errorf("malformed node key %q", key)
	}
	step, err := strconv.Atoi(parts[2][1:])
	if err != nil || step < 1 {
		return Node{}, fmt.Errorf("malformed step in node key %q", key)
	}

	switch Track(parts[0]) {
	case TrackMain:
		if !strings.HasPrefix(parts[1], "p") {
			return Node{}, fmt.Errorf("malformed phase in node key %q", key)
		}
		phase, err := strconv.Atoi(parts[1][1:])
		if err != nil || phase < 1 {
			return Node{}, fmt.Errorf("malformed phase in node key %q", key)
		}
		return Main(phase, step), nil
	case TrackRemedial:
		level, err := ParseLevel(parts[1])
		if err != nil {
			return Node{}, fmt.Errorf("node key %q: %w", key, err)
		}
		return Remedial(level, step), nil
	default:
		return Node{}, fmt.Errorf("unknown track in node key %q", key)
	}
}
