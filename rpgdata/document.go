// Package rpgdata reads and writes RPG Maker MV/MZ data files.
//
// Event-bearing documents (maps, common events, troops, scenarios) are
// decoded into instruction lists that can be edited in place. Database
// documents are kept as raw JSON and edited by path. Either way, keys that
// are not touched are written back in their original order.
package rpgdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsupported is returned for files whose kind is not recognized.
var ErrUnsupported = errors.New("unsupported data file")

// Kind identifies the structure of a data file.
type Kind int

const (
	KindUnknown Kind = iota
	KindMap
	KindCommonEvents
	KindTroops
	KindScenario
	KindActors
	KindArmors
	KindWeapons
	KindItems
	KindSkills
	KindEnemies
	KindClasses
	KindMapInfos
	KindStates
	KindSystem
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindMap:          "map",
	KindCommonEvents: "common events",
	KindTroops:       "troops",
	KindScenario:     "scenario",
	KindActors:       "actors",
	KindArmors:       "armors",
	KindWeapons:      "weapons",
	KindItems:        "items",
	KindSkills:       "skills",
	KindEnemies:      "enemies",
	KindClasses:      "classes",
	KindMapInfos:     "map infos",
	KindStates:       "states",
	KindSystem:       "system",
}

func (k Kind) String() string { return kindNames[k] }

// HasEvents reports whether documents of this kind carry instruction lists.
func (k Kind) HasEvents() bool {
	switch k {
	case KindMap, KindCommonEvents, KindTroops, KindScenario:
		return true
	}
	return false
}

var mapFile = regexp.MustCompile(`^Map\d+\.json$`)

var fixedKinds = map[string]Kind{
	"CommonEvents.json": KindCommonEvents,
	"Troops.json":       KindTroops,
	"Scenario.json":     KindScenario,
	"Actors.json":       KindActors,
	"Armors.json":       KindArmors,
	"Weapons.json":      KindWeapons,
	"Items.json":        KindItems,
	"Skills.json":       KindSkills,
	"Enemies.json":      KindEnemies,
	"Classes.json":      KindClasses,
	"MapInfos.json":     KindMapInfos,
	"States.json":       KindStates,
	"System.json":       KindSystem,
}

// KindOf classifies a file by its base name.
func KindOf(name string) Kind {
	base := filepath.Base(name)
	if mapFile.MatchString(base) {
		return KindMap
	}
	if k, ok := fixedKinds[base]; ok {
		return k
	}
	return KindUnknown
}

// ---------------------------------------------------------------------------
// Document
// ---------------------------------------------------------------------------

// Document is one parsed data file. Exactly one of the content fields is
// set, depending on Kind.
type Document struct {
	// Name is the base file name, used in logs and mismatch records.
	Name string
	Kind Kind

	Map          *Map
	CommonEvents []*CommonEvent
	Troops       []*Troop
	Scenario     *Scenario
	// Raw holds database documents, edited with gjson/sjson paths.
	Raw []byte
}

// Parse decodes data according to the kind implied by name.
func Parse(name string, data []byte) (*Document, error) {
	doc := &Document{Name: filepath.Base(name), Kind: KindOf(name)}

	var err error
	switch doc.Kind {
	case KindMap:
		doc.Map = &Map{}
		err = json.Unmarshal(data, doc.Map)
	case KindCommonEvents:
		err = json.Unmarshal(data, &doc.CommonEvents)
	case KindTroops:
		err = json.Unmarshal(data, &doc.Troops)
	case KindScenario:
		doc.Scenario = &Scenario{}
		err = json.Unmarshal(data, doc.Scenario)
	case KindUnknown:
		return nil, fmt.Errorf("%s: %w", doc.Name, ErrUnsupported)
	default:
		if !json.Valid(data) {
			err = errors.New("invalid JSON")
		}
		doc.Raw = append([]byte(nil), data...)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", doc.Name, err)
	}
	return doc, nil
}

// Load reads and parses path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(path, data)
}

// Marshal encodes the document back to JSON.
func (d *Document) Marshal() ([]byte, error) {
	var v any
	switch d.Kind {
	case KindMap:
		v = d.Map
	case KindCommonEvents:
		v = d.CommonEvents
	case KindTroops:
		v = d.Troops
	case KindScenario:
		v = d.Scenario
	default:
		if d.Raw == nil {
			return nil, fmt.Errorf("%s: %w", d.Name, ErrUnsupported)
		}
		return d.Raw, nil
	}
	data, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", d.Name, err)
	}
	return data, nil
}

// Save writes the document to path, creating parent directories.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Instructions counts the instructions of an event-bearing document.
func (d *Document) Instructions() int {
	n := 0
	switch d.Kind {
	case KindMap:
		for _, e := range d.Map.Events {
			if e == nil {
				continue
			}
			for _, p := range e.Pages {
				if p != nil {
					n += len(p.List)
				}
			}
		}
	case KindCommonEvents:
		for _, c := range d.CommonEvents {
			if c != nil {
				n += len(c.List)
			}
		}
	case KindTroops:
		for _, t := range d.Troops {
			if t == nil {
				continue
			}
			for _, p := range t.Pages {
				if p != nil {
					n += len(p.List)
				}
			}
		}
	case KindScenario:
		for _, l := range d.Scenario.Lists {
			n += len(l)
		}
	}
	return n
}

// IsDataFile reports whether name looks like a translatable data file.
func IsDataFile(name string) bool {
	return strings.HasSuffix(name, ".json") && KindOf(name) != KindUnknown
}
