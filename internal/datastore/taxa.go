// taxa.go implements read access to the species reference data.
package datastore

import (
	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// GetOrCreateTaxon looks up a taxon by scientific name, creating a bare
// name-only stub when none exists. External enrichment fills in common
// names and identifiers later; the pipeline never touches existing rows.
func (ds *DataStore) GetOrCreateTaxon(scientificName string) (*SpeciesTaxon, error) {
	if scientificName == "" {
		return nil, errors.Newf("scientific name must not be empty").
			Category(errors.CategoryValidation).
			Build()
	}

	var taxon SpeciesTaxon
	err := ds.DB.Where(SpeciesTaxon{ScientificName: scientificName}).
		FirstOrCreate(&taxon).Error
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("scientific_name", scientificName).
			Build()
	}
	return &taxon, nil
}

// GetTaxon retrieves a taxon by ID.
func (ds *DataStore) GetTaxon(id uint) (*SpeciesTaxon, error) {
	var taxon SpeciesTaxon
	if err := ds.DB.First(&taxon, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("taxon %d not found", id).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return &taxon, nil
}
