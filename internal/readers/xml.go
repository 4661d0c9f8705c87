package readers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

// XMLReader streams records out of an XML document. Records are the children of the root
// element, or every element named recordElement when set. Child elements become keys,
// attributes become "@name" keys, and repeated children collect into a list.
type XMLReader struct {
	src           Source
	encoding      string
	recordElement string

	rc    io.ReadCloser
	dec   *xml.Decoder
	depth int

	row   domain.Row
	index int
	err   error
}

func NewXMLReader(src Source, encoding, recordElement string) (*XMLReader, error) {
	r := &XMLReader{src: src, encoding: encoding, recordElement: recordElement}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *XMLReader) open() error {
	rc, err := r.src.Open()
	if err != nil {
		return err
	}
	r.rc = rc
	r.dec = xml.NewDecoder(decode(rc, r.encoding))
	// Input is already UTF-8 after decode; the declared charset is informational.
	r.dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	r.depth, r.index, r.err = 0, -1, nil
	return nil
}

func (r *XMLReader) isRecord(se xml.StartElement) bool {
	if r.recordElement != "" {
		return se.Name.Local == r.recordElement
	}
	return r.depth == 2
}

func (r *XMLReader) Next() bool {
	if r.err != nil || r.dec == nil {
		return false
	}
	for {
		tok, err := r.dec.Token()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
			return false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r.depth++
			if !r.isRecord(t) {
				continue
			}
			line, _ := r.dec.InputPos()
			var node xmlNode
			if err := r.dec.DecodeElement(&node, &t); err != nil {
				r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
				return false
			}
			r.depth--
			r.index++
			r.row = domain.Row{Values: nodeToMap(node), Line: line}
			return true
		case xml.EndElement:
			r.depth--
		}
	}
}

func nodeToMap(n xmlNode) map[string]any {
	out := make(map[string]any, len(n.Attrs)+len(n.Nodes))
	for _, a := range n.Attrs {
		out["@"+a.Name.Local] = a.Value
	}
	for _, child := range n.Nodes {
		key := child.XMLName.Local
		val := nodeValue(child)
		switch existing := out[key].(type) {
		case nil:
			out[key] = val
		case []any:
			out[key] = append(existing, val)
		default:
			out[key] = []any{existing, val}
		}
	}
	if len(n.Nodes) == 0 {
		if text := strings.TrimSpace(n.Content); text != "" {
			out["#text"] = text
		}
	}
	return out
}

func nodeValue(n xmlNode) any {
	if len(n.Nodes) == 0 && len(n.Attrs) == 0 {
		return strings.TrimSpace(n.Content)
	}
	return nodeToMap(n)
}

func (r *XMLReader) Row() domain.Row { return r.row }
func (r *XMLReader) Index() int      { return r.index }
func (r *XMLReader) Err() error      { return r.err }

func (r *XMLReader) Rewind() error {
	if err := r.Close(); err != nil {
		return err
	}
	return r.open()
}

func (r *XMLReader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc, r.dec = nil, nil
	return err
}
