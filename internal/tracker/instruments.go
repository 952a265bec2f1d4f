package tracker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

// DefaultInstrumentsPath is the optional point-value metadata file.
const DefaultInstrumentsPath = "config/instruments.yaml"

// fallbackPointValue is used for symbols missing from the metadata table so
// that P&L reconstruction degrades instead of dividing the signal to zero.
const fallbackPointValue = 1.0

// Instruments maps a futures symbol to its USD-per-point contract value.
// Values come from a built-in table of the micros the daemon is normally
// pointed at, optionally extended or overridden by a YAML file.
type Instruments struct {
	points map[string]float64
}

// DefaultInstruments returns the built-in point-value table.
func DefaultInstruments() *Instruments {
	return &Instruments{points: map[string]float64{
		"MNQ": 5.0,
		"MES": 5.0,
		"NQ":  20.0,
		"ES":  50.0,
	}}
}

// LoadInstruments merges the YAML metadata file at path over the built-in
// table. A missing file is not an error; the defaults apply.
func LoadInstruments(path string) (*Instruments, error) {
	ins := DefaultInstruments()
	if path == "" {
		path = DefaultInstrumentsPath
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-owned metadata path
	if os.IsNotExist(err) {
		return ins, nil
	}
	if err != nil {
		return ins, fmt.Errorf("reading instruments: %w", err)
	}

	var doc struct {
		PointValues map[string]float64 `yaml:"point_values"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ins, fmt.Errorf("parsing instruments: %w", err)
	}
	for sym, pv := range doc.PointValues {
		if pv > 0 {
			ins.points[sym] = pv
		}
	}
	return ins, nil
}

// PointValue returns the USD value of a 1.00 price move for the contract,
// looked up by the contract ID's symbol segment.
func (i *Instruments) PointValue(contractID string) float64 {
	if pv, ok := i.points[models.SymbolFromContract(contractID)]; ok {
		return pv
	}
	return fallbackPointValue
}
