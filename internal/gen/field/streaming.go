package field

import (
	"math"
	"time"
)

// createCells materializes missing cells in the view square around every
// observer. New cells touching an already collapsed neighbor are enqueued so
// the next propagation pass constrains them before anything collapses.
func (f *Field) createCells(now time.Duration, rec *tickRecord) {
	if len(f.observers) == 0 {
		return
	}
	if now < f.nextCreateAt {
		return
	}
	f.nextCreateAt = now + f.cfg.Tune.CreateInterval()

	edge := float64(f.cfg.Tune.CellEdgeLength)
	half := f.cfg.Tune.CellsOnEdge / 2
	max := f.cfg.Tune.MaxCells

	for _, ob := range f.sortedObservers() {
		gx := int(math.Round(ob.Pos.X / edge))
		gz := int(math.Round(ob.Pos.Z / edge))
		for x := gx - half; x <= gx+half; x++ {
			for z := gz - half; z <= gz+half; z++ {
				pos := Coord{X: x, Z: z}
				if _, ok := f.cells[pos]; ok {
					continue
				}
				if max > 0 && len(f.cells) >= max {
					return
				}
				c := newCell(pos, f.rs.All())
				f.cells[pos] = c
				rec.Created++
				f.seedPropagation(c)
			}
		}
	}
}

// seedPropagation enqueues a fresh cell when any neighbor is already
// collapsed. Cells surrounded only by superposed neighbors carry no
// constraints yet and stay out of the queue.
func (f *Field) seedPropagation(c *Cell) {
	for _, d := range f.rs.Directions() {
		n := f.cells[c.Pos.Offset(d)]
		if n != nil && n.Collapsed {
			f.queue = append(f.queue, c.Pos)
			return
		}
	}
}

// destroyCells drops cells farther than the despawn radius from every
// observer. Queue entries for destroyed cells are left behind; propagation
// skips coordinates with no live cell.
func (f *Field) destroyCells(now time.Duration, rec *tickRecord) {
	if len(f.observers) == 0 {
		return
	}
	if now < f.nextDestroyAt {
		return
	}
	f.nextDestroyAt = now + f.cfg.Tune.DestroyInterval()

	edge := float64(f.cfg.Tune.CellEdgeLength)
	despawn := f.cfg.Tune.DespawnDistance()

	for pos := range f.cells {
		world := Vec3{X: float64(pos.X) * edge, Z: float64(pos.Z) * edge}
		if f.minObserverDistance(world) > despawn {
			delete(f.cells, pos)
			rec.Destroyed++
		}
	}
}

func (f *Field) minObserverDistance(world Vec3) float64 {
	min := math.Inf(1)
	for _, ob := range f.observers {
		if d := ob.Pos.Dist(world); d < min {
			min = d
		}
	}
	return min
}
