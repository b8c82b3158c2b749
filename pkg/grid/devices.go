package grid

// Bus is a calculation node. Vnom in kV, voltage limits and the initial
// guess in per unit.
type Bus struct {
	Name    string
	IDTag   string
	Active  bool
	Vnom    float64
	Vmin    float64
	Vmax    float64
	Vm0     float64
	Va0     float64
	IsSlack bool
	IsDC    bool
	Area    int

	ActiveProf []bool
}

func NewBus(name string, vnom float64) *Bus {
	return &Bus{
		Name:   name,
		IDTag:  newIDTag(),
		Active: true,
		Vnom:   vnom,
		Vmin:   0.9,
		Vmax:   1.1,
		Vm0:    1.0,
		Va0:    0.0,
	}
}

func (b *Bus) ActiveAt(t int) bool { return activeAt(b.Active, b.ActiveProf, t) }

// Line is an AC branch with impedances already in per unit on the system base.
type Line struct {
	Name   string
	IDTag  string
	Active bool
	BusF   *Bus
	BusT   *Bus
	R      float64
	X      float64
	G      float64
	B      float64
	Rate   float64 // MVA

	ActiveProf []bool
	RateProf   []float64
}

func NewLine(name string, f, t *Bus, r, x, b, rate float64) *Line {
	return &Line{
		Name:   name,
		IDTag:  newIDTag(),
		Active: true,
		BusF:   f,
		BusT:   t,
		R:      r,
		X:      x,
		B:      b,
		Rate:   rate,
	}
}

func (l *Line) ActiveAt(t int) bool  { return activeAt(l.Active, l.ActiveProf, t) }
func (l *Line) RateAt(t int) float64 { return at(l.Rate, l.RateProf, t) }

// Transformer is a two-winding branch with a controllable complex tap.
// Hv and Lv are the winding nominal voltages (kV) used to derive the
// virtual taps against the connection buses.
type Transformer struct {
	Name      string
	IDTag     string
	Active    bool
	BusF      *Bus
	BusT      *Bus
	R         float64
	X         float64
	G         float64
	B         float64
	Rate      float64
	Hv        float64
	Lv        float64
	TapModule float64
	TapAngle  float64 // rad
	TapMmin   float64
	TapMmax   float64
	TapAmin   float64
	TapAmax   float64
	Control   ControlMode
	Pset      float64 // MW
	Qset      float64 // MVAr
	Vset      float64 // p.u.

	ActiveProf    []bool
	RateProf      []float64
	TapModuleProf []float64
	TapAngleProf  []float64
}

func NewTransformer(name string, f, t *Bus, r, x, rate float64) *Transformer {
	return &Transformer{
		Name:      name,
		IDTag:     newIDTag(),
		Active:    true,
		BusF:      f,
		BusT:      t,
		R:         r,
		X:         x,
		Rate:      rate,
		Hv:        f.Vnom,
		Lv:        t.Vnom,
		TapModule: 1.0,
		TapMmin:   0.1,
		TapMmax:   1.5,
		TapAmin:   -6.28,
		TapAmax:   6.28,
		Control:   ControlFixed,
		Vset:      1.0,
	}
}

func (tr *Transformer) ActiveAt(t int) bool        { return activeAt(tr.Active, tr.ActiveProf, t) }
func (tr *Transformer) RateAt(t int) float64       { return at(tr.Rate, tr.RateProf, t) }
func (tr *Transformer) TapModuleAt(t int) float64  { return at(tr.TapModule, tr.TapModuleProf, t) }
func (tr *Transformer) TapAngleAt(t int) float64   { return at(tr.TapAngle, tr.TapAngleProf, t) }

// Vsc is an AC/DC converter branch. BusF is the DC side, BusT the AC side.
// Alpha1..Alpha3 are the IEC 62751-2 switching-loss coefficients; Kdp is the
// voltage-droop slope for droop-controlled converters.
type Vsc struct {
	Name      string
	IDTag     string
	Active    bool
	BusF      *Bus
	BusT      *Bus
	R         float64
	X         float64
	G0sw      float64
	Beq       float64
	BeqMin    float64
	BeqMax    float64
	TapModule float64
	TapAngle  float64
	Rate      float64
	Kdp       float64
	Alpha1    float64
	Alpha2    float64
	Alpha3    float64
	Control   ControlMode
	Pfset     float64 // MW, DC power set point
	Qtset     float64 // MVAr, AC reactive set point
	Vfset     float64 // p.u., DC voltage set point
	Vtset     float64 // p.u., AC voltage set point

	ActiveProf []bool
	RateProf   []float64
}

func NewVsc(name string, f, t *Bus, r, x, rate float64) *Vsc {
	return &Vsc{
		Name:      name,
		IDTag:     newIDTag(),
		Active:    true,
		BusF:      f,
		BusT:      t,
		R:         r,
		X:         x,
		Rate:      rate,
		BeqMin:    -999999.0,
		BeqMax:    999999.0,
		TapModule: 1.0,
		Kdp:       -0.05,
		Alpha1:    0.0001,
		Alpha2:    0.015,
		Alpha3:    0.2,
		Control:   ControlVscFree,
		Vfset:     1.0,
		Vtset:     1.0,
	}
}

func (c *Vsc) ActiveAt(t int) bool  { return activeAt(c.Active, c.ActiveProf, t) }
func (c *Vsc) RateAt(t int) float64 { return at(c.Rate, c.RateProf, t) }

// HvdcLine is a point-to-point DC link dispatched outside the AC equations.
type HvdcLine struct {
	Name       string
	IDTag      string
	Active     bool
	BusF       *Bus
	BusT       *Bus
	R          float64
	Pset       float64 // MW
	VsetF      float64 // p.u.
	VsetT      float64 // p.u.
	AngleDroop float64 // MW/deg
	Control    HvdcControl
	Rate       float64
	QminF      float64
	QmaxF      float64
	QminT      float64
	QmaxT      float64

	ActiveProf []bool
	PsetProf   []float64
	RateProf   []float64
}

func NewHvdcLine(name string, f, t *Bus, r, pset, rate float64) *HvdcLine {
	return &HvdcLine{
		Name:    name,
		IDTag:   newIDTag(),
		Active:  true,
		BusF:    f,
		BusT:    t,
		R:       r,
		Pset:    pset,
		VsetF:   1.0,
		VsetT:   1.0,
		Control: HvdcControlPset,
		Rate:    rate,
		QminF:   -9999.0,
		QmaxF:   9999.0,
		QminT:   -9999.0,
		QmaxT:   9999.0,
	}
}

func (h *HvdcLine) ActiveAt(t int) bool  { return activeAt(h.Active, h.ActiveProf, t) }
func (h *HvdcLine) PsetAt(t int) float64 { return at(h.Pset, h.PsetProf, t) }
func (h *HvdcLine) RateAt(t int) float64 { return at(h.Rate, h.RateProf, t) }

// Generator injects P (MW) and, when voltage-controlling, regulates its bus
// to Vset.
type Generator struct {
	Name         string
	IDTag        string
	Active       bool
	Bus          *Bus
	P            float64 // MW
	Pf           float64 // power factor for the reactive split
	Vset         float64 // p.u.
	Qmin         float64 // MVAr
	Qmax         float64 // MVAr
	Snom         float64 // MVA
	IsControlled bool

	ActiveProf []bool
	PProf      []float64
	VsetProf   []float64
}

func NewGenerator(name string, bus *Bus, p, vset float64) *Generator {
	return &Generator{
		Name:         name,
		IDTag:        newIDTag(),
		Active:       true,
		Bus:          bus,
		P:            p,
		Pf:           0.8,
		Vset:         vset,
		Qmin:         -9999.0,
		Qmax:         9999.0,
		Snom:         9999.0,
		IsControlled: true,
	}
}

func (g *Generator) ActiveAt(t int) bool   { return activeAt(g.Active, g.ActiveProf, t) }
func (g *Generator) PAt(t int) float64     { return at(g.P, g.PProf, t) }
func (g *Generator) VsetAt(t int) float64  { return at(g.Vset, g.VsetProf, t) }

// Battery is a generator with storage. When dispatched as storage by the
// optimizer it stops regulating voltage and is treated as a plain injection.
type Battery struct {
	Generator
	Enom            float64 // MWh
	DispatchStorage bool
}

func NewBattery(name string, bus *Bus, p, vset, enom float64) *Battery {
	b := &Battery{Enom: enom}
	b.Generator = *NewGenerator(name, bus, p, vset)
	return b
}

// Load consumes S = P + jQ (MW, MVAr; positive means consumption).
type Load struct {
	Name   string
	IDTag  string
	Active bool
	Bus    *Bus
	P      float64
	Q      float64

	ActiveProf []bool
	PProf      []float64
	QProf      []float64
}

func NewLoad(name string, bus *Bus, p, q float64) *Load {
	return &Load{
		Name:   name,
		IDTag:  newIDTag(),
		Active: true,
		Bus:    bus,
		P:      p,
		Q:      q,
	}
}

func (l *Load) ActiveAt(t int) bool { return activeAt(l.Active, l.ActiveProf, t) }
func (l *Load) PAt(t int) float64   { return at(l.P, l.PProf, t) }
func (l *Load) QAt(t int) float64   { return at(l.Q, l.QProf, t) }

// Shunt is a fixed admittance to ground, G and B in MW / MVAr at V = 1 p.u.
type Shunt struct {
	Name   string
	IDTag  string
	Active bool
	Bus    *Bus
	G      float64
	B      float64

	ActiveProf []bool
	GProf      []float64
	BProf      []float64
}

func NewShunt(name string, bus *Bus, g, b float64) *Shunt {
	return &Shunt{
		Name:   name,
		IDTag:  newIDTag(),
		Active: true,
		Bus:    bus,
		G:      g,
		B:      b,
	}
}

func (s *Shunt) ActiveAt(t int) bool { return activeAt(s.Active, s.ActiveProf, t) }
func (s *Shunt) GAt(t int) float64   { return at(s.G, s.GProf, t) }
func (s *Shunt) BAt(t int) float64   { return at(s.B, s.BProf, t) }
