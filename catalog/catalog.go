// Package catalog holds the services catalogue seeded into the database.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mitantsoa1/gns-preprod/models"
)

//go:embed services.yaml
var defaultCatalog []byte

type serviceEntry struct {
	ID     uint   `yaml:"id"`
	Name   string `yaml:"name"`
	NameFr string `yaml:"name_fr"`
}

type productEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	NameFr   string `yaml:"name_fr"`
	Price    int64  `yaml:"price"`
	Delay    string `yaml:"delay"`
	Services []uint `yaml:"services"`
}

type document struct {
	Services []serviceEntry `yaml:"services"`
	Products []productEntry `yaml:"products"`
}

// Default parses the embedded catalogue.
func Default() ([]models.Service, []models.Product, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a catalogue document. Products may only reference services
// declared in the same document.
func Parse(raw []byte) ([]models.Service, []models.Product, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse catalogue: %w", err)
	}

	byID := make(map[uint]models.Service, len(doc.Services))
	services := make([]models.Service, 0, len(doc.Services))
	for _, s := range doc.Services {
		if s.ID == 0 || s.Name == "" {
			return nil, nil, fmt.Errorf("catalogue service needs an id and a name: %+v", s)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate catalogue service %d", s.ID)
		}
		svc := models.Service{ID: s.ID, Name: s.Name, NameFr: s.NameFr}
		byID[s.ID] = svc
		services = append(services, svc)
	}

	seen := make(map[string]bool, len(doc.Products))
	products := make([]models.Product, 0, len(doc.Products))
	for _, p := range doc.Products {
		if p.ID == "" || p.Name == "" {
			return nil, nil, fmt.Errorf("catalogue product needs an id and a name: %+v", p)
		}
		if seen[p.ID] {
			return nil, nil, fmt.Errorf("duplicate catalogue product %q", p.ID)
		}
		seen[p.ID] = true
		if p.Price < 0 {
			return nil, nil, fmt.Errorf("product %q has a negative price", p.ID)
		}

		prod := models.Product{ID: p.ID, Name: p.Name, NameFr: p.NameFr, Price: p.Price, Delay: p.Delay}
		for _, sid := range p.Services {
			svc, ok := byID[sid]
			if !ok {
				return nil, nil, fmt.Errorf("product %q references unknown service %d", p.ID, sid)
			}
			prod.Services = append(prod.Services, svc)
		}
		products = append(products, prod)
	}
	return services, products, nil
}
