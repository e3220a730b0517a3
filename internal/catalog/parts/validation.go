package parts

import (
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

func (s *Service) validate(p Part) error {
	if strings.TrimSpace(p.PartNumber) == "" {
		return fmt.Errorf("part number: %w", shared.ErrRequiredField)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("part name: %w", shared.ErrRequiredField)
	}
	return nil
}
