package backends

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Constructor 根据配置创建后端实例
type Constructor func(cfg BaseConfig, logger *zap.Logger) (Backend, error)

// Registry 引擎注册表，名称到构造函数的映射
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register 注册引擎构造函数
func (r *Registry) Register(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("engine %s already registered", name)
	}

	r.constructors[name] = ctor
	return nil
}

// Create 按名称构造后端实例
func (r *Registry) Create(name string, cfg BaseConfig, logger *zap.Logger) (Backend, error) {
	r.mu.RLock()
	ctor, exists := r.constructors[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("engine %s not registered", name)
	}

	return ctor(cfg, logger)
}

// Names 返回已注册引擎名称，按字典序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry 默认注册表
var DefaultRegistry = NewRegistry()

// Register 注册到默认注册表
func Register(name string, ctor Constructor) error {
	return DefaultRegistry.Register(name, ctor)
}

// Create 从默认注册表构造后端
func Create(name string, cfg BaseConfig, logger *zap.Logger) (Backend, error) {
	return DefaultRegistry.Create(name, cfg, logger)
}

// Names 列出默认注册表中的引擎
func Names() []string {
	return DefaultRegistry.Names()
}
