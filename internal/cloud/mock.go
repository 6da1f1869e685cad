package cloud

import "context"

// MockProvider implements Provider with pluggable function fields, for tests.
type MockProvider struct {
	DescribeFunc func(ctx context.Context, name string) (*Instance, error)
	ListFunc     func(ctx context.Context, prefix string) ([]*Instance, error)
	CreateFunc   func(ctx context.Context, spec *Spec) error
	StartFunc    func(ctx context.Context, name string) error
	StopFunc     func(ctx context.Context, name string) error
	DeleteFunc   func(ctx context.Context, name string) error
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) Describe(ctx context.Context, name string) (*Instance, error) {
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, name)
	}
	return &Instance{Name: name, Phase: PhaseAbsent}, nil
}

func (m *MockProvider) List(ctx context.Context, prefix string) ([]*Instance, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, prefix)
	}
	return nil, nil
}

func (m *MockProvider) Create(ctx context.Context, spec *Spec) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, spec)
	}
	return nil
}

func (m *MockProvider) Start(ctx context.Context, name string) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, name)
	}
	return nil
}

func (m *MockProvider) Stop(ctx context.Context, name string) error {
	if m.StopFunc != nil {
		return m.StopFunc(ctx, name)
	}
	return nil
}

func (m *MockProvider) Delete(ctx context.Context, name string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, name)
	}
	return nil
}
