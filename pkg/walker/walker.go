// Package walker flattens a live accessibility tree into element records.
//
// Traversal is pre-order, depth-bounded and time-bounded. Failures on individual
// nodes never abort the walk: a node whose role or frame cannot be read is
// skipped together with its subtree, unreadable text attributes are treated as
// absent, and a node whose children cannot be listed is kept as a leaf.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
	"github.com/devicelab-dev/axrunner/pkg/role"
)

// Defaults
const (
	DefaultMaxDepth = 10
	DefaultTimeout  = time.Second
)

// Config controls traversal.
type Config struct {
	MaxDepth int           `yaml:"max_depth"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Walker traverses accessibility trees.
type Walker struct {
	cfg        Config
	classifier *role.Classifier
	log        *slog.Logger
}

// New creates a walker. A nil classifier uses the built-in role table.
func New(cfg Config, classifier *role.Classifier, log *slog.Logger) *Walker {
	if classifier == nil {
		classifier = role.New()
	}
	return &Walker{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		log:        logger.OrDiscard(log),
	}
}

// MaxDepth returns the configured default depth.
func (w *Walker) MaxDepth() int {
	return w.cfg.MaxDepth
}

// Traverse returns records for every readable node with depth < maxDepth, the
// root being depth 0. A nil root or maxDepth <= 0 yields no records, and so
// does a walk that exceeds the walker timeout or outlives ctx. A walk that
// yields nothing from a readable root is logged as a fault.
func (w *Walker) Traverse(ctx context.Context, root *core.AppRoot, maxDepth int) []core.ElementRecord {
	if root == nil || root.Node == nil || maxDepth <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	done := make(chan *traversal, 1)
	go func() {
		t := &traversal{ctx: ctx, app: root.App, maxDepth: maxDepth, classifier: w.classifier}
		t.visit(root.Node, 0)
		done <- t
	}()

	select {
	case t := <-done:
		if len(t.records) == 0 {
			w.log.Warn("tree traversal produced no records", "app", root.App.Name, "error", t.rootErr)
		}
		return t.records
	case <-ctx.Done():
		w.log.Warn("tree traversal aborted", "app", root.App.Name, "error", ctx.Err())
		return nil
	}
}

type traversal struct {
	ctx        context.Context
	app        core.AppInfo
	maxDepth   int
	classifier *role.Classifier
	records    []core.ElementRecord
	rootErr    error // why the root was skipped
}

func (t *traversal) visit(n core.Node, depth int) {
	if depth >= t.maxDepth || t.ctx.Err() != nil {
		return
	}

	rec, err := t.read(n, depth)
	if err != nil {
		if depth == 0 {
			t.rootErr = err
		}
		return
	}
	t.records = append(t.records, rec)

	for _, child := range children(n) {
		t.visit(child, depth+1)
	}
}

// read captures one node. A non-nil error means the node must be skipped with its subtree.
func (t *traversal) read(n core.Node, depth int) (rec core.ElementRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()

	native, err := n.Role()
	if err != nil {
		return rec, fmt.Errorf("read role: %w", err)
	}
	bounds, err := n.Frame()
	if err != nil {
		return rec, fmt.Errorf("read frame: %w", err)
	}

	rec = core.ElementRecord{
		Role:        t.classifier.Classify(native),
		NativeRole:  native,
		Title:       attribute(n, core.AttrTitle),
		Description: attribute(n, core.AttrDescription),
		Value:       attribute(n, core.AttrValue),
		Bounds:      bounds,
		Enabled:     enabled(n),
		App:         t.app,
		Depth:       depth,
		Source:      n,
	}
	return rec, nil
}

func attribute(n core.Node, name string) (v string) {
	defer func() {
		if recover() != nil {
			v = ""
		}
	}()
	v, err := n.Attribute(name)
	if err != nil {
		return ""
	}
	return v
}

func enabled(n core.Node) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ok, err := n.Enabled()
	return err == nil && ok
}

func children(n core.Node) (kids []core.Node) {
	defer func() {
		if recover() != nil {
			kids = nil
		}
	}()
	kids, err := n.Children()
	if err != nil {
		return nil
	}
	return kids
}
