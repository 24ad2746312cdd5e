package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"

	"github.com/dyike/CortexAdvisor/models"
)

var ErrToolNotFound = errors.New("tool not found")

// Capability is what a plan step resolves to: a *Bound tool or Unknown.
type Capability interface {
	ToolName() string
	Invoke(ctx context.Context, argsJSON string) (string, error)
}

// Bound wraps a registered eino tool.
type Bound struct {
	name string
	desc string
	tool tool.InvokableTool
}

func (b *Bound) ToolName() string { return b.name }

func (b *Bound) Invoke(ctx context.Context, argsJSON string) (string, error) {
	return b.tool.InvokableRun(ctx, argsJSON)
}

// Unknown is returned for names that were never registered.
type Unknown struct {
	Name string
}

func (u Unknown) ToolName() string { return u.Name }

func (u Unknown) Invoke(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: %q", ErrToolNotFound, u.Name)
}

// Registry is the closed name-to-tool table, fixed at construction.
type Registry struct {
	byName map[string]*Bound
	order  []string
}

func NewRegistry(ctx context.Context, tools ...tool.InvokableTool) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Bound, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		name := strings.TrimSpace(info.Name)
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		r.byName[name] = &Bound{name: name, desc: info.Desc, tool: t}
		r.order = append(r.order, name)
	}
	return r, nil
}

// Resolve never fails; unregistered names resolve to Unknown.
func (r *Registry) Resolve(name string) Capability {
	if r != nil {
		if b, ok := r.byName[strings.TrimSpace(name)]; ok {
			return b
		}
	}
	return Unknown{Name: name}
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name).(*Bound)
	return ok
}

// Descriptors lists tools in registration order.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	if r == nil {
		return nil
	}
	out := make([]models.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		b := r.byName[name]
		out = append(out, models.ToolDescriptor{Name: b.name, Description: b.desc})
	}
	return out
}
