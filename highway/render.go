package highway

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	roadColor  = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	lineColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	grassColor = color.RGBA{R: 30, G: 100, B: 30, A: 255}
)

// Snapshot is a serializable view of the road at the current time
type Snapshot struct {
	Time             float64           `json:"time"`
	Steps            int               `json:"steps"`
	ConstructionLane int               `json:"construction_lane"`
	Ego              int               `json:"ego"`
	Vehicles         []VehicleSnapshot `json:"vehicles"`
}

type VehicleSnapshot struct {
	ID      int     `json:"id"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
	Lane    string  `json:"lane"`
	Crashed bool    `json:"crashed"`
}

func (e *Env) Snapshot() Snapshot {
	s := Snapshot{
		Time:             e.time,
		Steps:            e.steps,
		ConstructionLane: e.constructionLane,
		Vehicles:         make([]VehicleSnapshot, 0),
	}
	if e.road == nil {
		return s
	}
	for _, v := range e.road.Vehicles {
		s.Vehicles = append(s.Vehicles, VehicleSnapshot{
			ID:      v.ID,
			Kind:    v.Kind.String(),
			X:       v.Position.X,
			Y:       v.Position.Y,
			Heading: v.Heading,
			Speed:   v.Speed,
			Lane:    v.LaneIndex.String(),
			Crashed: v.Crashed,
		})
	}
	if e.ego != nil {
		s.Ego = e.ego.ID
	}
	return s
}

// viewport returns the world rectangle shown on screen, following the ego
func (e *Env) viewport() (lo, hi r2.Vec) {
	width := float64(e.config.ScreenWidth) / e.config.Scaling
	height := float64(e.config.ScreenHeight) / e.config.Scaling
	center := r2.Vec{}
	if e.ego != nil {
		// screen y points down, the plot y axis is the negated road y
		center = r2.Vec{X: e.ego.Position.X, Y: -e.ego.Position.Y}
	}
	cx, cy := e.config.CenteringPosition[0], e.config.CenteringPosition[1]
	lo = r2.Vec{X: center.X - cx*width, Y: center.Y - (1-cy)*height}
	hi = r2.Vec{X: lo.X + width, Y: lo.Y + height}
	return lo, hi
}

// Render draws the current frame as a PNG of screen_width x screen_height points
func (e *Env) Render(w io.Writer) error {
	if e.road == nil {
		return ErrNotReset
	}
	p := plot.New()
	p.HideAxes()
	p.BackgroundColor = grassColor
	lo, hi := e.viewport()
	p.X.Min, p.X.Max = lo.X, hi.X
	p.Y.Min, p.Y.Max = lo.Y, hi.Y
	p.Title.Text = fmt.Sprintf("t=%.1fs", e.time)

	for _, idx := range e.road.Network.Indices() {
		lane := e.road.Network.Lane(idx)
		surface, err := plotter.NewPolygon(laneOutline(lane))
		if err != nil {
			return fmt.Errorf("lane %s: %w", idx, err)
		}
		surface.Color = roadColor
		surface.LineStyle.Width = 0
		p.Add(surface)
	}
	for _, idx := range e.road.Network.Indices() {
		lane := e.road.Network.Lane(idx)
		for _, side := range []float64{-0.5, 0.5} {
			start := lane.Position(0, side*lane.Width)
			end := lane.Position(lane.Length(), side*lane.Width)
			marking, err := plotter.NewLine(plotter.XYs{{X: start.X, Y: -start.Y}, {X: end.X, Y: -end.Y}})
			if err != nil {
				return fmt.Errorf("lane %s: %w", idx, err)
			}
			marking.Color = lineColor
			marking.Width = vg.Points(1)
			if idx.ID > 0 && side < 0 {
				marking.Dashes = []vg.Length{vg.Points(6), vg.Points(6)}
			}
			p.Add(marking)
		}
	}

	for _, v := range e.road.Vehicles {
		corners := v.corners()
		xys := make(plotter.XYs, len(corners))
		for i, c := range corners {
			xys[i] = plotter.XY{X: c.X, Y: -c.Y}
		}
		body, err := plotter.NewPolygon(xys)
		if err != nil {
			return fmt.Errorf("vehicle %d: %w", v.ID, err)
		}
		body.Color = v.Color
		if v.Crashed {
			body.Color = crashedColor
		}
		body.LineStyle.Width = vg.Points(0.5)
		p.Add(body)
	}

	wt, err := p.WriterTo(vg.Points(float64(e.config.ScreenWidth)), vg.Points(float64(e.config.ScreenHeight)), "png")
	if err != nil {
		return fmt.Errorf("rendering frame: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func laneOutline(lane *StraightLane) plotter.XYs {
	half := lane.Width / 2
	points := []r2.Vec{
		lane.Position(0, -half),
		lane.Position(lane.Length(), -half),
		lane.Position(lane.Length(), half),
		lane.Position(0, half),
	}
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i] = plotter.XY{X: pt.X, Y: -pt.Y}
	}
	return xys
}
