package product

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/validate"
)

// CreateProductInput seeds a catalog product. The catalog service owns
// products; this exists for tooling and tests.
type CreateProductInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("product repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) Create(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	product := &models.Product{Name: input.Name, IsActive: true}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}
	if err := s.repo.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return s.repo.FindByID(ctx, nil, id)
}
