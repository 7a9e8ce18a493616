package graph

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// RenderMode tells the renderer how to draw a group.
type RenderMode string

const (
	// RenderSingle draws the only series of the group directly.
	RenderSingle RenderMode = "single"
	// RenderMasked draws the second series clipped by the fill of the first.
	RenderMasked RenderMode = "masked"
)

// maxSeriesPerLabel is the largest group the masked rendering supports.
const maxSeriesPerLabel = 2

// Group is the set of series sharing a display label.
type Group struct {
	Label   string     `json:"label"`
	Mode    RenderMode `json:"mode"`
	Series  []*Series  `json:"series"`
	Focused bool       `json:"focused"`
}

// Mask returns the stencil series of a masked group.
func (g *Group) Mask() *Series {
	if g.Mode != RenderMasked {
		return nil
	}
	return g.Series[0]
}

// Visible returns the series whose fill is drawn.
func (g *Group) Visible() *Series {
	return g.Series[len(g.Series)-1]
}

// Diagnostic reports a recoverable problem found while composing a graph.
type Diagnostic struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// Composition is the ordered result of Compose. Groups are in draw order:
// the first group is painted first (underneath).
type Composition struct {
	Groups      []*Group     `json:"groups"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Compose groups series by display label and orders the groups for drawing.
//
// A label shared by two series renders as a masked pair. A label shared by
// more series is skipped with a diagnostic while the other labels still
// render. Unfocused groups come first, larger groups before smaller ones;
// the group whose label equals focus is drawn last.
func Compose(series []*Series, focus string) Composition {
	var (
		order  []string
		byName = make(map[string][]*Series)
	)
	for _, s := range series {
		label := s.DisplayLabel()
		if _, seen := byName[label]; !seen {
			order = append(order, label)
		}
		byName[label] = append(byName[label], s)
	}

	var comp Composition
	for _, label := range order {
		members := byName[label]
		if len(members) > maxSeriesPerLabel {
			msg := fmt.Sprintf("%d series share this label, at most %d are supported", len(members), maxSeriesPerLabel)
			log.Warn().Str("label", label).Int("series", len(members)).Msg("Skipping label shared by too many series")
			comp.Diagnostics = append(comp.Diagnostics, Diagnostic{Label: label, Message: msg})
			continue
		}

		g := &Group{Label: label, Mode: RenderSingle, Series: members}
		if len(members) == maxSeriesPerLabel {
			g.Mode = RenderMasked
		}
		if focus != "" && label == focus {
			g.Focused = true
			for _, s := range members {
				s.Focused = true
			}
		}
		comp.Groups = append(comp.Groups, g)
	}

	sort.SliceStable(comp.Groups, func(i, j int) bool {
		a, b := comp.Groups[i], comp.Groups[j]
		if a.Focused != b.Focused {
			return b.Focused
		}
		return len(a.Series) > len(b.Series)
	})
	return comp
}
