// Package hello provides the simplest possible backend service, useful for
// smoke-testing endpoint declarations.
package hello

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/apiary/apiary/internal/service"
)

const Name = "hello"

type helloService struct{}

// New returns a hello service. The shared transport handle is accepted to
// satisfy the factory contract but never used.
func New(_ *http.Client) service.Service {
	return &helloService{}
}

func (s *helloService) Call(_ context.Context, params map[string]any) (map[string]any, error) {
	name := "World"
	if raw, ok := params["name"]; ok && raw != nil {
		if provided := strings.TrimSpace(fmt.Sprint(raw)); provided != "" {
			name = provided
		}
	}
	return map[string]any{
		"message": fmt.Sprintf("Hello, %s!", name),
		"name":    name,
		"service": Name,
	}, nil
}

func (s *helloService) Cleanup() error {
	return nil
}
