// Package glossary 加载并应用术语表，保证人名与专有名词的译法一致。
package glossary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Glossary 术语表
type Glossary struct {
	SourceLang string            `toml:"source_lang"`
	TargetLang string            `toml:"target_lang"`
	Terms      map[string]string `toml:"terms"`

	// 按原文长度降序排列，长词优先替换
	ordered []term
}

type term struct {
	from string
	to   string
}

// Empty 返回空术语表
func Empty() *Glossary {
	return &Glossary{Terms: map[string]string{}}
}

// Load 从 TOML 文件加载术语表
// 路径为空或文件不存在时返回空术语表。
func Load(path string) (*Glossary, error) {
	if path == "" {
		return Empty(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Empty(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary file: %w", err)
	}

	g := &Glossary{}
	if err := toml.Unmarshal(content, g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal glossary: %w", err)
	}
	if g.Terms == nil {
		g.Terms = map[string]string{}
	}
	g.index()
	return g, nil
}

// index 重建替换顺序
func (g *Glossary) index() {
	g.ordered = g.ordered[:0]
	for from, to := range g.Terms {
		if from == "" {
			continue
		}
		g.ordered = append(g.ordered, term{from: from, to: to})
	}
	sort.Slice(g.ordered, func(i, j int) bool {
		if len(g.ordered[i].from) != len(g.ordered[j].from) {
			return len(g.ordered[i].from) > len(g.ordered[j].from)
		}
		return g.ordered[i].from < g.ordered[j].from
	})
}

// Apply 把文本中出现的原文术语替换为指定译法
func (g *Glossary) Apply(text string) string {
	if g == nil || len(g.ordered) == 0 {
		return text
	}
	for _, t := range g.ordered {
		text = strings.ReplaceAll(text, t.from, t.to)
	}
	return text
}

// Len 返回术语条数
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Terms)
}
