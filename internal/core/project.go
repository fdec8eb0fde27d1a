package core

import (
	"context"
	"fmt"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// ProjectSource is the remote ERP as seen by the backup runner.
type ProjectSource interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	// FetchModule returns one page of module records. An empty NextToken
	// marks the last page.
	FetchModule(ctx context.Context, projectID string, module model.Module, pageToken string) (*model.Page, error)
}

type ProjectService struct {
	source ProjectSource
}

func NewProjectService(source ProjectSource) *ProjectService {
	return &ProjectService{source: source}
}

// List returns the projects offered in the backup picker.
func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	projects, err := s.source.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}
