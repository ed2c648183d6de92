// Package artifact turns uploaded Scratch 3 project archives into the
// workspace markup cached by a session.
package artifact

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
)

const (
	projectFile            = "project.json"
	DefaultMaxProjectBytes = 32 << 20
)

var (
	errNoProject = errors.New("archive has no project.json")
	errTooLarge  = errors.New("project.json too large")
	errNoTargets = errors.New("project.json has no targets")
)

// SB3Translator is a pure bytes -> artifact function; it keeps no state
// between calls and is safe for concurrent use.
type SB3Translator struct {
	MaxProjectBytes int64
}

func NewSB3Translator(maxProjectBytes int64) *SB3Translator {
	if maxProjectBytes <= 0 {
		maxProjectBytes = DefaultMaxProjectBytes
	}
	return &SB3Translator{MaxProjectBytes: maxProjectBytes}
}

// Translate decodes an .sb3 archive. Every failure wraps
// domain.ErrArtifactDecode.
func (t *SB3Translator) Translate(data []byte) (*domain.Artifact, error) {
	project, err := t.readProject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactDecode, err)
	}
	ws, blocks, err := BuildWorkspace(project)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactDecode, err)
	}
	text, err := ws.Render()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactDecode, err)
	}
	sum := sha256.Sum256(data)
	return &domain.Artifact{
		XML:        text,
		Targets:    len(ws.Targets),
		Blocks:     blocks,
		Size:       len(data),
		Digest:     hex.EncodeToString(sum[:]),
		UploadedAt: time.Now(),
	}, nil
}

func (t *SB3Translator) readProject(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != projectFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		body, err := io.ReadAll(io.LimitReader(rc, t.MaxProjectBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > t.MaxProjectBytes {
			return nil, errTooLarge
		}
		return body, nil
	}
	return nil, errNoProject
}

type rawProject struct {
	Targets []rawTarget `json:"targets"`
}

type rawTarget struct {
	Name    string                     `json:"name"`
	IsStage bool                       `json:"isStage"`
	Blocks  map[string]json.RawMessage `json:"blocks"`
}

type rawBlock struct {
	Opcode   string                     `json:"opcode"`
	Next     *string                    `json:"next"`
	Inputs   map[string]json.RawMessage `json:"inputs"`
	Fields   map[string]json.RawMessage `json:"fields"`
	TopLevel bool                       `json:"topLevel"`
	X        *float64                   `json:"x"`
	Y        *float64                   `json:"y"`
}

// BuildWorkspace converts a project.json document. It also reports how many
// blocks ended up in the tree.
func BuildWorkspace(project []byte) (*Workspace, int, error) {
	var p rawProject
	if err := json.Unmarshal(project, &p); err != nil {
		return nil, 0, err
	}
	if len(p.Targets) == 0 {
		return nil, 0, errNoTargets
	}

	ws := &Workspace{Targets: make([]Target, 0, len(p.Targets))}
	total := 0
	for _, rt := range p.Targets {
		b := newTargetBuilder(rt)
		tgt, err := b.build()
		if err != nil {
			return nil, 0, fmt.Errorf("target %q: %w", rt.Name, err)
		}
		ws.Targets = append(ws.Targets, tgt)
		total += len(b.visited)
	}
	return ws, total, nil
}

type targetBuilder struct {
	raw     rawTarget
	blocks  map[string]*rawBlock
	loose   map[string][]json.RawMessage
	visited map[string]bool
}

func newTargetBuilder(rt rawTarget) *targetBuilder {
	return &targetBuilder{
		raw:     rt,
		blocks:  make(map[string]*rawBlock, len(rt.Blocks)),
		loose:   make(map[string][]json.RawMessage),
		visited: make(map[string]bool, len(rt.Blocks)),
	}
}

func (b *targetBuilder) build() (Target, error) {
	tgt := Target{Name: b.raw.Name, Stage: b.raw.IsStage}

	ids := make([]string, 0, len(b.raw.Blocks))
	for id, raw := range b.raw.Blocks {
		ids = append(ids, id)
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			// top-level variable or list reporter: [type, name, id, x, y]
			var arr []json.RawMessage
			if err := json.Unmarshal(trimmed, &arr); err != nil {
				return tgt, fmt.Errorf("block %s: %w", id, err)
			}
			b.loose[id] = arr
			continue
		}
		var rb rawBlock
		if err := json.Unmarshal(trimmed, &rb); err != nil {
			return tgt, fmt.Errorf("block %s: %w", id, err)
		}
		b.blocks[id] = &rb
	}
	sort.Strings(ids)

	for _, id := range ids {
		if arr, ok := b.loose[id]; ok {
			blk, err := primitive(arr)
			if err != nil {
				return tgt, fmt.Errorf("block %s: %w", id, err)
			}
			if blk == nil {
				continue
			}
			blk.ID = id
			if len(arr) >= 5 {
				blk.X = number(arr[3])
				blk.Y = number(arr[4])
			}
			tgt.Blocks = append(tgt.Blocks, blk)
			continue
		}
		if !b.blocks[id].TopLevel {
			continue
		}
		blk, err := b.block(id)
		if err != nil {
			return tgt, err
		}
		tgt.Blocks = append(tgt.Blocks, blk)
	}
	return tgt, nil
}

func (b *targetBuilder) block(id string) (*Block, error) {
	if b.visited[id] {
		return nil, fmt.Errorf("block %s referenced twice", id)
	}
	rb, ok := b.blocks[id]
	if !ok {
		return nil, fmt.Errorf("missing block %s", id)
	}
	b.visited[id] = true

	blk := &Block{Type: rb.Opcode, ID: id}
	if rb.TopLevel {
		blk.X, blk.Y = rb.X, rb.Y
	}

	for _, name := range sortedKeys(rb.Fields) {
		var arr []json.RawMessage
		if err := json.Unmarshal(rb.Fields[name], &arr); err != nil || len(arr) == 0 {
			return nil, fmt.Errorf("block %s: bad field %s", id, name)
		}
		blk.Fields = append(blk.Fields, Field{Name: name, Value: text(arr[0])})
	}

	for _, name := range sortedKeys(rb.Inputs) {
		var arr []json.RawMessage
		if err := json.Unmarshal(rb.Inputs[name], &arr); err != nil || len(arr) < 2 {
			return nil, fmt.Errorf("block %s: bad input %s", id, name)
		}
		var kind int
		if err := json.Unmarshal(arr[0], &kind); err != nil {
			return nil, fmt.Errorf("block %s: bad input %s", id, name)
		}
		child, err := b.ref(arr[1])
		if err != nil {
			return nil, err
		}

		if strings.HasPrefix(name, "SUBSTACK") {
			if child != nil {
				blk.Statements = append(blk.Statements, Statement{Name: name, Block: child})
			}
			continue
		}

		v := Value{Name: name}
		if kind == 1 {
			v.Shadow = child
		} else {
			v.Block = child
		}
		if len(arr) > 2 {
			if v.Shadow, err = b.ref(arr[2]); err != nil {
				return nil, err
			}
		}
		if v.Shadow != nil || v.Block != nil {
			blk.Values = append(blk.Values, v)
		}
	}

	if rb.Next != nil {
		next, err := b.block(*rb.Next)
		if err != nil {
			return nil, err
		}
		blk.Next = &Next{Block: next}
	}
	return blk, nil
}

// ref resolves an input slot: a block id, an inline primitive or null.
func (b *targetBuilder) ref(raw json.RawMessage) (*Block, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, err
		}
		return b.block(id)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil {
		return nil, fmt.Errorf("bad input reference: %w", err)
	}
	return primitive(arr)
}

type primitiveKind struct {
	opcode string
	field  string
}

var primitives = map[int]primitiveKind{
	4:  {"math_number", "NUM"},
	5:  {"math_positive_number", "NUM"},
	6:  {"math_whole_number", "NUM"},
	7:  {"math_integer", "NUM"},
	8:  {"math_angle", "NUM"},
	9:  {"colour_picker", "COLOUR"},
	10: {"text", "TEXT"},
	11: {"event_broadcast_menu", "BROADCAST_OPTION"},
	12: {"data_variable", "VARIABLE"},
	13: {"data_listcontents", "LIST"},
}

func primitive(arr []json.RawMessage) (*Block, error) {
	if len(arr) < 2 {
		return nil, errors.New("short primitive")
	}
	var code int
	if err := json.Unmarshal(arr[0], &code); err != nil {
		return nil, fmt.Errorf("bad primitive type: %w", err)
	}
	kind, ok := primitives[code]
	if !ok {
		return nil, fmt.Errorf("unknown primitive type %d", code)
	}
	return &Block{
		Type:   kind.opcode,
		Fields: []Field{{Name: kind.field, Value: text(arr[1])}},
	}, nil
}

// text renders a JSON scalar the way it reads in the editor.
func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

func number(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
