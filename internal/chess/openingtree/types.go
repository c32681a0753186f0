package openingtree

// Definition is one authored opening repertoire.
type Definition struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	ECO           string     `json:"eco" yaml:"eco"`
	Color         string     `json:"color" yaml:"color"`
	Difficulty    string     `json:"difficulty" yaml:"difficulty"`
	Description   string     `json:"description" yaml:"description"`
	RootFEN       string     `json:"rootFen,omitempty" yaml:"rootFen,omitempty"`
	RootResponses []string   `json:"rootResponses,omitempty" yaml:"rootResponses,omitempty"`
	RootWeights   []float64  `json:"rootWeights,omitempty" yaml:"rootWeights,omitempty"`
	Moves         []NodeSpec `json:"moves" yaml:"moves"`
	Defenses      []Defense  `json:"defenses,omitempty" yaml:"defenses,omitempty"`
}

// NodeSpec is an authored theory move and the opponent replies that follow it.
type NodeSpec struct {
	SAN             string     `json:"san" yaml:"san"`
	FEN             string     `json:"fen,omitempty" yaml:"fen,omitempty"`
	Commentary      string     `json:"commentary,omitempty" yaml:"commentary,omitempty"`
	EngineResponses []string   `json:"engineResponses,omitempty" yaml:"engineResponses,omitempty"`
	ResponseWeights []float64  `json:"responseWeights,omitempty" yaml:"responseWeights,omitempty"`
	Children        []NodeSpec `json:"children,omitempty" yaml:"children,omitempty"`
}

// Defense is a narrower repertoire the opponent can be locked into.
type Defense struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	MoveSequence string            `json:"moves" yaml:"moveSequence"`
	Profile      string            `json:"profile,omitempty" yaml:"profile,omitempty"`
	Nodes        []DefenseNodeSpec `json:"nodes" yaml:"nodes"`
}

type DefenseNodeSpec struct {
	SAN        string            `json:"san" yaml:"san"`
	FEN        string            `json:"fen,omitempty" yaml:"fen,omitempty"`
	Commentary string            `json:"commentary,omitempty" yaml:"commentary,omitempty"`
	Response   string            `json:"response,omitempty" yaml:"response,omitempty"`
	Children   []DefenseNodeSpec `json:"children,omitempty" yaml:"children,omitempty"`
}

// PlaysWhite reports whether the human side of this opening is white.
func (d *Definition) PlaysWhite() bool {
	return d == nil || d.Color != "black"
}

func (d *Definition) Defense(id string) (*Defense, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.Defenses {
		if d.Defenses[i].ID == id {
			return &d.Defenses[i], true
		}
	}
	return nil, false
}
