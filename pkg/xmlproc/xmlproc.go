// Package xmlproc parses and validates the FEGA submission XML documents
// and extracts the cross-references between them. Validation reports the
// position and pointer of each problem so the UI can highlight it.
package xmlproc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ValidationError is one problem found in a submitted document.
type ValidationError struct {
	Reason   string `json:"reason"`
	Position string `json:"position"`
	Pointer  string `json:"pointer"`
}

// ObjectDoc is a parsed and validated metadata document.
type ObjectDoc struct {
	ObjectType  string
	Accession   string
	Alias       string
	Title       string
	Description string
	Raw         []byte

	references []ObjectRef
}

// ObjectRef is a reference from one document to another object.
type ObjectRef struct {
	ObjectType string `json:"objectType"`
	Accession  string `json:"accession,omitempty"`
	RefName    string `json:"refname,omitempty"`
}

// Processor turns submitted XML into object documents.
type Processor interface {
	// ParseAndValidate parses one document of the given schema type.
	ParseAndValidate(schemaType string, doc []byte) (*ObjectDoc, []ValidationError)
	// ExtractReferences lists the objects the document points at.
	ExtractReferences(doc *ObjectDoc) []ObjectRef
}

// SchemaTypes lists the FEGA object types in their submission order.
var SchemaTypes = []string{
	"study", "sample", "experiment", "run", "analysis", "dac", "policy", "dataset",
}

// XMLProcessor implements Processor over the FEGA schema set.
type XMLProcessor struct{}

// New creates the processor.
func New() *XMLProcessor {
	return &XMLProcessor{}
}

// ParseAndValidate parses the document and checks its root element against
// the schema type. A `<TYPE_SET>` wrapper around a single object is
// accepted.
func (p *XMLProcessor) ParseAndValidate(schemaType string, doc []byte) (*ObjectDoc, []ValidationError) {
	if !validSchemaType(schemaType) {
		return nil, []ValidationError{{
			Reason:   fmt.Sprintf("unknown schema type %q", schemaType),
			Position: "line 1",
			Pointer:  "/",
		}}
	}

	decoder := xml.NewDecoder(bytes.NewReader(doc))
	parsed := &ObjectDoc{ObjectType: schemaType, Raw: doc}

	wantRoot := strings.ToUpper(schemaType)
	var stack []string
	var errsFound []ValidationError

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, []ValidationError{syntaxError(err)}
		}

		switch element := token.(type) {
		case xml.StartElement:
			name := element.Name.Local
			if len(stack) == 0 {
				if name != wantRoot && name != wantRoot+"_SET" {
					errsFound = append(errsFound, ValidationError{
						Reason: fmt.Sprintf("expected root element %s or %s_SET, found %s",
							wantRoot, wantRoot, name),
						Position: positionAt(doc, decoder.InputOffset()),
						Pointer:  "/" + name,
					})
				}
			}
			stack = append(stack, name)

			switch {
			case name == wantRoot:
				for _, attr := range element.Attr {
					switch attr.Name.Local {
					case "accession":
						parsed.Accession = attr.Value
					case "alias":
						parsed.Alias = attr.Value
					}
				}
			case strings.HasSuffix(name, "_REF"):
				ref := ObjectRef{
					ObjectType: strings.ToLower(strings.TrimSuffix(name, "_REF")),
				}
				for _, attr := range element.Attr {
					switch attr.Name.Local {
					case "accession":
						ref.Accession = attr.Value
					case "refname":
						ref.RefName = attr.Value
					}
				}
				if ref.Accession == "" && ref.RefName == "" {
					errsFound = append(errsFound, ValidationError{
						Reason:   fmt.Sprintf("%s carries neither accession nor refname", name),
						Position: positionAt(doc, decoder.InputOffset()),
						Pointer:  pointerFor(stack),
					})
				} else {
					parsed.references = append(parsed.references, ref)
				}
			}

		case xml.CharData:
			text := strings.TrimSpace(string(element))
			if text == "" || len(stack) == 0 {
				continue
			}
			switch stack[len(stack)-1] {
			case "TITLE":
				parsed.Title = text
			case "DESCRIPTION", "STUDY_ABSTRACT":
				parsed.Description = text
			}

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(errsFound) > 0 {
		return nil, errsFound
	}
	if parsed.Accession == "" && parsed.Alias == "" {
		return nil, []ValidationError{{
			Reason:   fmt.Sprintf("%s carries neither accession nor alias", wantRoot),
			Position: "line 1",
			Pointer:  "/" + wantRoot,
		}}
	}
	return parsed, nil
}

// ExtractReferences lists the objects the document points at.
func (p *XMLProcessor) ExtractReferences(doc *ObjectDoc) []ObjectRef {
	return doc.references
}

func validSchemaType(schemaType string) bool {
	for _, known := range SchemaTypes {
		if known == schemaType {
			return true
		}
	}
	return false
}

func syntaxError(err error) ValidationError {
	var syntax *xml.SyntaxError
	if errors.As(err, &syntax) {
		return ValidationError{
			Reason:   syntax.Msg,
			Position: fmt.Sprintf("line %d", syntax.Line),
			Pointer:  "/",
		}
	}
	return ValidationError{Reason: err.Error(), Position: "line 1", Pointer: "/"}
}

// positionAt renders the line and column of a byte offset.
func positionAt(doc []byte, offset int64) string {
	if offset > int64(len(doc)) {
		offset = int64(len(doc))
	}
	head := doc[:offset]
	line := bytes.Count(head, []byte("\n")) + 1
	column := int(offset)
	if idx := bytes.LastIndexByte(head, '\n'); idx >= 0 {
		column = int(offset) - idx - 1
	}
	return fmt.Sprintf("line %d, column %d", line, column)
}

func pointerFor(stack []string) string {
	return "/" + strings.Join(stack, "/")
}
