// Package definition loads workflow drafts from YAML documents.
//
//	code: welcome
//	name: Welcome series
//	entry: send
//	nodes:
//	  - key: send
//	    type: email
//	    config:
//	      to: ${payload.email}
//	      subject: Welcome
//	      body: Hello ${payload.name}
//	  - key: done
//	    type: terminal
//	edges:
//	  - from: send
//	    to: done
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/courier/workflow"
)

type document struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Entry string `yaml:"entry"`
	Nodes []struct {
		Key    string         `yaml:"key"`
		Type   string         `yaml:"type"`
		Config map[string]any `yaml:"config"`
	} `yaml:"nodes"`
	Edges []struct {
		From      string `yaml:"from"`
		To        string `yaml:"to"`
		Condition string `yaml:"condition"`
	} `yaml:"edges"`
}

// Load decodes one YAML workflow document. Unknown fields are rejected.
func Load(r io.Reader) (*workflow.Draft, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("definition: empty document")
		}
		return nil, fmt.Errorf("definition: decode: %w", err)
	}
	if doc.Code == "" {
		return nil, errors.New("definition: code is required")
	}

	d := &workflow.Draft{
		Code:  doc.Code,
		Name:  doc.Name,
		Entry: doc.Entry,
	}
	if d.Name == "" {
		d.Name = doc.Code
	}
	for _, n := range doc.Nodes {
		t := workflow.NodeType(n.Type)
		if !t.Valid() {
			return nil, fmt.Errorf("definition: node %q: unknown type %q", n.Key, n.Type)
		}
		d.Nodes = append(d.Nodes, workflow.DraftNode{Key: n.Key, Type: t, Config: n.Config})
	}
	for _, e := range doc.Edges {
		d.Edges = append(d.Edges, workflow.DraftEdge{From: e.From, To: e.To, Condition: e.Condition})
	}
	return d, nil
}

// LoadBytes decodes a YAML workflow document held in memory.
func LoadBytes(b []byte) (*workflow.Draft, error) {
	return Load(bytes.NewReader(b))
}

// LoadFile reads and decodes the YAML workflow document at path.
func LoadFile(path string) (*workflow.Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("definition: %w", err)
	}
	defer f.Close()
	return Load(f)
}
