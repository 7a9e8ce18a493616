// Package entity models the smart-home entities shown on the dashboard.
//
// Entities form a closed set of variants. Code that needs per-variant
// behaviour implements Visitor, which forces a method for every variant.
package entity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidID is returned for ids that are not of the form domain.object_id.
var ErrInvalidID = errors.New("invalid entity id")

var idPattern = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\.([a-z0-9_]+)$`)

// ID is a domain-qualified entity id, e.g. "sensor.living_temperature".
type ID struct {
	Domain   string
	ObjectID string
}

// ParseID validates and splits s.
func ParseID(s string) (ID, error) {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{Domain: m[1], ObjectID: m[2]}, nil
}

func (id ID) String() string {
	return id.Domain + "." + id.ObjectID
}

// Entity is one of Light, Gauge, Camera, Garage, Switch, Thermostat,
// Humidifier or Select.
type Entity interface {
	EntityID() ID
	Accept(v Visitor)
	sealed()
}

// Visitor has one method per Entity variant.
type Visitor interface {
	VisitLight(*Light)
	VisitGauge(*Gauge)
	VisitCamera(*Camera)
	VisitGarage(*Garage)
	VisitSwitch(*Switch)
	VisitThermostat(*Thermostat)
	VisitHumidifier(*Humidifier)
	VisitSelect(*Select)
}

type base struct {
	ID ID
}

func (b *base) EntityID() ID { return b.ID }
func (b *base) sealed()      {}

// Light is a dimmable or switchable light.
type Light struct{ base }

// Gauge is a numeric sensor.
type Gauge struct {
	base
	Unit string
}

// Camera is a camera feed.
type Camera struct{ base }

// Garage is a cover such as a garage door.
type Garage struct{ base }

// Switch is a binary switch or binary sensor.
type Switch struct{ base }

// Thermostat is a climate device.
type Thermostat struct{ base }

// Humidifier is a humidifier or dehumidifier.
type Humidifier struct{ base }

// Select is an option picker.
type Select struct{ base }

func (e *Light) Accept(v Visitor)      { v.VisitLight(e) }
func (e *Gauge) Accept(v Visitor)      { v.VisitGauge(e) }
func (e *Camera) Accept(v Visitor)     { v.VisitCamera(e) }
func (e *Garage) Accept(v Visitor)     { v.VisitGarage(e) }
func (e *Switch) Accept(v Visitor)     { v.VisitSwitch(e) }
func (e *Thermostat) Accept(v Visitor) { v.VisitThermostat(e) }
func (e *Humidifier) Accept(v Visitor) { v.VisitHumidifier(e) }
func (e *Select) Accept(v Visitor)     { v.VisitSelect(e) }

// New builds the variant matching the domain of id.
func New(id ID) (Entity, error) {
	b := base{ID: id}
	switch id.Domain {
	case "light":
		return &Light{b}, nil
	case "sensor", "number", "input_number":
		return &Gauge{base: b}, nil
	case "camera":
		return &Camera{b}, nil
	case "cover":
		return &Garage{b}, nil
	case "switch", "binary_sensor", "input_boolean", "fan", "lock", "person", "device_tracker":
		return &Switch{b}, nil
	case "climate", "water_heater":
		return &Thermostat{b}, nil
	case "humidifier":
		return &Humidifier{b}, nil
	case "select", "input_select":
		return &Select{b}, nil
	default:
		return nil, fmt.Errorf("unsupported entity domain %q", id.Domain)
	}
}

// Parse combines ParseID and New.
func Parse(s string) (Entity, error) {
	id, err := ParseID(s)
	if err != nil {
		return nil, err
	}
	return New(id)
}
