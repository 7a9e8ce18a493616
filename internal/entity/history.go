package entity

// HistoryKind tells how an entity's history is drawn on a graph.
type HistoryKind string

const (
	// HistorySeries draws the history as a numeric curve.
	HistorySeries HistoryKind = "series"
	// HistoryAnnotation highlights the intervals where the entity was on.
	HistoryAnnotation HistoryKind = "annotation"
	// HistoryNone means the entity has no graphable history.
	HistoryNone HistoryKind = "none"
)

type historyKindVisitor struct {
	kind HistoryKind
}

func (v *historyKindVisitor) VisitLight(*Light)           { v.kind = HistoryAnnotation }
func (v *historyKindVisitor) VisitGauge(*Gauge)           { v.kind = HistorySeries }
func (v *historyKindVisitor) VisitCamera(*Camera)         { v.kind = HistoryNone }
func (v *historyKindVisitor) VisitGarage(*Garage)         { v.kind = HistoryAnnotation }
func (v *historyKindVisitor) VisitSwitch(*Switch)         { v.kind = HistoryAnnotation }
func (v *historyKindVisitor) VisitThermostat(*Thermostat) { v.kind = HistorySeries }
func (v *historyKindVisitor) VisitHumidifier(*Humidifier) { v.kind = HistorySeries }
func (v *historyKindVisitor) VisitSelect(*Select)         { v.kind = HistoryNone }

// HistoryKindOf returns how e is drawn by default.
func HistoryKindOf(e Entity) HistoryKind {
	v := &historyKindVisitor{}
	e.Accept(v)
	return v.kind
}
