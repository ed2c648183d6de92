package artifact

import "encoding/xml"

// Workspace is the markup tree clients load: one <target> per sprite or
// stage, each holding its top-level scripts keyed by block id.
type Workspace struct {
	XMLName xml.Name `xml:"xml"`
	Targets []Target `xml:"target"`
}

type Target struct {
	Name   string   `xml:"name,attr"`
	Stage  bool     `xml:"stage,attr"`
	Blocks []*Block `xml:"block"`
}

type Block struct {
	Type       string      `xml:"type,attr"`
	ID         string      `xml:"id,attr,omitempty"`
	X          *float64    `xml:"x,attr,omitempty"`
	Y          *float64    `xml:"y,attr,omitempty"`
	Fields     []Field     `xml:"field"`
	Values     []Value     `xml:"value"`
	Statements []Statement `xml:"statement"`
	Next       *Next       `xml:"next"`
}

type Field struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type Value struct {
	Name   string `xml:"name,attr"`
	Shadow *Block `xml:"shadow"`
	Block  *Block `xml:"block"`
}

type Statement struct {
	Name  string `xml:"name,attr"`
	Block *Block `xml:"block"`
}

type Next struct {
	Block *Block `xml:"block"`
}

// Render returns the XML text of w.
func (w *Workspace) Render() (string, error) {
	b, err := xml.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
