package speedscope

const (
	Schema = "https://www.speedscope.app/file-format-schema.json"

	ValueUnitBytes ValueUnit = "bytes"
	ValueUnitNone  ValueUnit = "none"

	ProfileTypeSampled ProfileType = "sampled"
)

type (
	Frame struct {
		File  string `json:"file,omitempty"`
		Image string `json:"image,omitempty"`
		Line  uint32 `json:"line,omitempty"`
		Name  string `json:"name"`
		Path  string `json:"path,omitempty"`
	}

	SampledProfile struct {
		EndValue   uint64      `json:"endValue"`
		Name       string      `json:"name"`
		Samples    [][]int     `json:"samples"`
		StartValue uint64      `json:"startValue"`
		Type       ProfileType `json:"type"`
		Unit       ValueUnit   `json:"unit"`
		Weights    []uint64    `json:"weights"`
	}

	SharedData struct {
		Frames []Frame `json:"frames"`
	}

	ProfileType string
	ValueUnit   string

	Output struct {
		Schema             string        `json:"$schema"`
		ActiveProfileIndex int           `json:"activeProfileIndex"`
		Exporter           string        `json:"exporter,omitempty"`
		Name               string        `json:"name"`
		Profiles           []interface{} `json:"profiles"`
		Shared             SharedData    `json:"shared"`
	}
)

// Weight returns the sum of the weights of every sampled profile.
func (o Output) Weight() uint64 {
	var w uint64
	for _, p := range o.Profiles {
		sp, ok := p.(SampledProfile)
		if !ok {
			continue
		}
		for _, v := range sp.Weights {
			w += v
		}
	}
	return w
}
