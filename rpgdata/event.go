package rpgdata

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// OpDeleted marks an instruction that has been merged into another one.
// Marked instructions are dropped by Purge.
const OpDeleted = -1

// Instruction is one event command.
type Instruction struct {
	Code       int   `json:"code"`
	Indent     int   `json:"indent"`
	Parameters []any `json:"parameters"`
}

type instructionJSON Instruction

// UnmarshalJSON keeps numeric parameters as json.Number so that they are
// written back exactly as read.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var aux instructionJSON
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	*in = Instruction(aux)
	if in.Parameters == nil {
		in.Parameters = []any{}
	}
	return nil
}

// Str returns parameter i when it is a string.
func (in *Instruction) Str(i int) (string, bool) {
	if i < 0 || i >= len(in.Parameters) {
		return "", false
	}
	s, ok := in.Parameters[i].(string)
	return s, ok
}

// Int returns parameter i when it is a number.
func (in *Instruction) Int(i int) (int, bool) {
	if i < 0 || i >= len(in.Parameters) {
		return 0, false
	}
	switch v := in.Parameters[i].(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// SetParam replaces parameter i. Out-of-range indexes are ignored.
func (in *Instruction) SetParam(i int, v any) {
	if i >= 0 && i < len(in.Parameters) {
		in.Parameters[i] = v
	}
}

// Delete marks the instruction for removal.
func (in *Instruction) Delete() { in.Code = OpDeleted }

// Purge returns list without the instructions marked deleted.
func Purge(list []*Instruction) []*Instruction {
	out := list[:0]
	for _, in := range list {
		if in != nil && in.Code != OpDeleted {
			out = append(out, in)
		}
	}
	for i := len(out); i < len(list); i++ {
		list[i] = nil
	}
	return out
}

// ---------------------------------------------------------------------------
// Pages, events and their containers
// ---------------------------------------------------------------------------

// Page is an event page: a list of instructions plus conditions and
// graphics that pass through untouched.
type Page struct {
	List []*Instruction
	obj  Object
}

func (p *Page) UnmarshalJSON(data []byte) error {
	if err := p.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	return p.obj.Decode("list", &p.List)
}

func (p Page) MarshalJSON() ([]byte, error) {
	if err := p.obj.Set("list", p.List); err != nil {
		return nil, err
	}
	return p.obj.MarshalJSON()
}

// Event is a map event.
type Event struct {
	ID    int
	Name  string
	Note  string
	Pages []*Page
	obj   Object
}

func (e *Event) UnmarshalJSON(data []byte) error {
	if err := e.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	e.Name, _ = e.obj.String("name")
	e.Note, _ = e.obj.String("note")
	if err := e.obj.Decode("id", &e.ID); err != nil {
		return err
	}
	return e.obj.Decode("pages", &e.Pages)
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.obj.Has("note") || e.Note != "" {
		if err := e.obj.Set("note", e.Note); err != nil {
			return nil, err
		}
	}
	if err := e.obj.Set("pages", e.Pages); err != nil {
		return nil, err
	}
	return e.obj.MarshalJSON()
}

// Map is a MapXXX.json document. Events is indexed by event ID and may
// contain nil entries.
type Map struct {
	DisplayName string
	Events      []*Event
	obj         Object
}

func (m *Map) UnmarshalJSON(data []byte) error {
	if err := m.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	m.DisplayName, _ = m.obj.String("displayName")
	return m.obj.Decode("events", &m.Events)
}

func (m Map) MarshalJSON() ([]byte, error) {
	if m.obj.Has("displayName") || m.DisplayName != "" {
		if err := m.obj.Set("displayName", m.DisplayName); err != nil {
			return nil, err
		}
	}
	if err := m.obj.Set("events", m.Events); err != nil {
		return nil, err
	}
	return m.obj.MarshalJSON()
}

// CommonEvent is one entry of CommonEvents.json.
type CommonEvent struct {
	ID   int
	Name string
	List []*Instruction
	obj  Object
}

func (c *CommonEvent) UnmarshalJSON(data []byte) error {
	if err := c.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	c.Name, _ = c.obj.String("name")
	if err := c.obj.Decode("id", &c.ID); err != nil {
		return err
	}
	return c.obj.Decode("list", &c.List)
}

func (c CommonEvent) MarshalJSON() ([]byte, error) {
	if err := c.obj.Set("list", c.List); err != nil {
		return nil, err
	}
	return c.obj.MarshalJSON()
}

// Troop is one entry of Troops.json.
type Troop struct {
	ID    int
	Name  string
	Pages []*Page
	obj   Object
}

func (t *Troop) UnmarshalJSON(data []byte) error {
	if err := t.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	t.Name, _ = t.obj.String("name")
	if err := t.obj.Decode("id", &t.ID); err != nil {
		return err
	}
	return t.obj.Decode("pages", &t.Pages)
}

func (t Troop) MarshalJSON() ([]byte, error) {
	if err := t.obj.Set("pages", t.Pages); err != nil {
		return nil, err
	}
	return t.obj.MarshalJSON()
}

// Scenario is a Scenario.json document (a plugin format): named
// instruction lists.
type Scenario struct {
	Lists map[string][]*Instruction
	obj   Object
}

// Keys returns the list names in file order.
func (s *Scenario) Keys() []string { return s.obj.Keys() }

func (s *Scenario) UnmarshalJSON(data []byte) error {
	if err := s.obj.UnmarshalJSON(data); err != nil {
		return err
	}
	s.Lists = make(map[string][]*Instruction, len(s.obj.keys))
	for _, k := range s.obj.keys {
		var list []*Instruction
		if err := s.obj.Decode(k, &list); err != nil {
			return err
		}
		s.Lists[k] = list
	}
	return nil
}

func (s Scenario) MarshalJSON() ([]byte, error) {
	for _, k := range s.obj.keys {
		if err := s.obj.Set(k, s.Lists[k]); err != nil {
			return nil, err
		}
	}
	return s.obj.MarshalJSON()
}
