package file

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/ports"
)

// Document is the layout of a topology file:
//
//	topologies:
//	  - name: tower-a
//	    controller_ip_active: 10.0.0.1
//	    controller_ip_passive: 10.0.0.2
type Document struct {
	Topologies []domain.TopologyDescriptor `yaml:"topologies"`
}

// Repository reads topology descriptors from a YAML (or JSON) file. The file
// is re-read on every call so edits apply on the next poll.
type Repository struct {
	path string
}

var _ ports.TopologyRepository = (*Repository)(nil)

func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

func (r *Repository) ListTopologies(ctx context.Context) ([]domain.TopologyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]domain.TopologyDescriptor, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topology file: %w", err)
	}
	if doc.Topologies == nil {
		return []domain.TopologyDescriptor{}, nil
	}
	return doc.Topologies, nil
}

// Static serves a fixed list, for tests and single-network setups.
type Static []domain.TopologyDescriptor

func (s Static) ListTopologies(ctx context.Context) ([]domain.TopologyDescriptor, error) {
	return append([]domain.TopologyDescriptor(nil), s...), nil
}
