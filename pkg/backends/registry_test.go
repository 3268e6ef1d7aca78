package backends

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

// nopBackend 注册表测试用的空实现
type nopBackend struct {
	name string
}

func (b *nopBackend) Name() string { return b.name }
func (b *nopBackend) TranslateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return text, nil
}
func (b *nopBackend) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	return texts, nil
}
func (b *nopBackend) Close() error { return nil }

func nopConstructor(name string) Constructor {
	return func(cfg BaseConfig, logger *zap.Logger) (Backend, error) {
		return &nopBackend{name: name}, nil
	}
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("mock", nopConstructor("mock")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	b, err := r.Create("mock", DefaultBaseConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if b.Name() != "mock" {
		t.Errorf("unexpected backend name: %s", b.Name())
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("mock", nopConstructor("mock")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register("mock", nopConstructor("mock")); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestRegistryUnknownEngine(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("nope", DefaultBaseConfig(), zap.NewNop()); err == nil {
		t.Error("unknown engine should fail")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(name, nopConstructor(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("names not sorted: %v", got)
	}
}
