package provider

import (
	"context"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
)

// Router sends mock jobs to the mock provider and everything else to the
// gateway. Mock job ids carry their own prefix, so status reads route
// without stored state. With no gateway every job goes to the mock.
type Router struct {
	Gateway JobSource
	Mock    *MockProvider
}

func (r *Router) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if r.Gateway == nil || spec.Provider == catalog.ProviderMock {
		return r.Mock.Submit(ctx, spec)
	}
	return r.Gateway.Submit(ctx, spec)
}

func (r *Router) FetchStatus(ctx context.Context, providerJobID string) (*Status, error) {
	if r.Gateway == nil || strings.HasPrefix(providerJobID, mockIDPrefix) {
		return r.Mock.FetchStatus(ctx, providerJobID)
	}
	return r.Gateway.FetchStatus(ctx, providerJobID)
}
