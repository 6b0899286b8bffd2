// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package engine contains a small rule-based packet filtering engine:
// a register file, rules built from registered expression types, and
// an object table for stateful objects referenced by rules.
package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdlayher/netlink"
	"golang.org/x/time/rate"

	"github.com/gonft/gonft/net/packet"
)

// Logf is the logging function type used throughout the engine.
type Logf func(format string, args ...any)

// Expr is one step of a rule, evaluated per packet. Eval runs on an
// arbitrary number of packet-processing goroutines concurrently; it
// must not block and must not mutate shared state beyond regs and the
// packet itself.
type Expr interface {
	Eval(regs *Regs, q *packet.Parsed)
	// Dump re-serializes the expression's configuration. It must be
	// the structural inverse of the configuration it was built from.
	Dump() ([]byte, error)
}

// Object is a stateful entity configured once and referenced by rules.
// Init-time errors surface at configuration time; Eval cannot fail.
type Object interface {
	Eval(q *packet.Parsed)
	// Dump re-serializes the object's configuration. reset is accepted
	// for symmetry with objects that carry resettable state.
	Dump(reset bool) ([]byte, error)
	// Destroy releases the object's resources. The object must not be
	// used after Destroy.
	Destroy()
}

var registry struct {
	mu      sync.Mutex
	exprs   map[string]func(conf []byte) (Expr, error)
	objects map[string]func(conf []byte) (Object, error)
}

// RegisterExpr registers a named expression type. It returns an error
// if the name is already taken.
func RegisterExpr(name string, build func(conf []byte) (Expr, error)) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.exprs[name]; dup {
		return fmt.Errorf("engine: expression type %q already registered", name)
	}
	if registry.exprs == nil {
		registry.exprs = make(map[string]func([]byte) (Expr, error))
	}
	registry.exprs[name] = build
	return nil
}

// UnregisterExpr removes a named expression type, if registered.
func UnregisterExpr(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.exprs, name)
}

// NewExpr builds an expression of the named type from its
// configuration attributes.
func NewExpr(name string, conf []byte) (Expr, error) {
	registry.mu.Lock()
	build, ok := registry.exprs[name]
	registry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown expression type %q", name)
	}
	return build(conf)
}

// RegisterObject registers a named object type. It returns an error if
// the name is already taken.
func RegisterObject(name string, build func(conf []byte) (Object, error)) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.objects[name]; dup {
		return fmt.Errorf("engine: object type %q already registered", name)
	}
	if registry.objects == nil {
		registry.objects = make(map[string]func([]byte) (Object, error))
	}
	registry.objects[name] = build
	return nil
}

// UnregisterObject removes a named object type, if registered.
func UnregisterObject(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.objects, name)
}

// NewObject builds an object of the named type from its configuration
// attributes.
func NewObject(name string, conf []byte) (Object, error) {
	registry.mu.Lock()
	build, ok := registry.objects[name]
	registry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown object type %q", name)
	}
	return build(conf)
}

// Rule is an ordered list of expressions. Evaluation runs them in
// order until one signals a verdict.
type Rule struct {
	Exprs []Expr
}

type ruleset struct {
	rules []Rule
}

// Engine evaluates rules against packets. Configuration operations
// (objects, rules) are serialized by an internal mutex; packet
// evaluation takes no locks and may run on any number of goroutines.
type Engine struct {
	logf Logf

	mu      sync.Mutex // serializes configuration changes
	objects map[string]Object
	rules   atomic.Pointer[ruleset]
}

// New returns an Engine with no rules and no objects. The default
// policy for packets no rule decides on is Accept.
func New(logf Logf) *Engine {
	e := &Engine{
		logf:    logf,
		objects: make(map[string]Object),
	}
	e.rules.Store(&ruleset{})
	return e
}

// AddObject builds an object of the registered type kind from conf and
// stores it under name.
func (e *Engine) AddObject(name, kind string, conf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.objects[name]; dup {
		return fmt.Errorf("engine: object %q already exists", name)
	}
	obj, err := NewObject(kind, conf)
	if err != nil {
		return err
	}
	e.objects[name] = obj
	return nil
}

// GetObject returns the named object.
func (e *Engine) GetObject(name string) (Object, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[name]
	return obj, ok
}

// DeleteObject destroys and removes the named object. It fails while
// an installed rule still references the object, so evaluation can
// never reach a destroyed object; the referencing rules must be
// replaced first. In-flight packets still referencing state the object
// published keep that state alive; only the object's own reference is
// dropped.
func (e *Engine) DeleteObject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[name]
	if !ok {
		return fmt.Errorf("engine: no object %q", name)
	}
	if e.objectInUse(obj) {
		return fmt.Errorf("engine: object %q is referenced by a rule", name)
	}
	delete(e.objects, name)
	obj.Destroy()
	return nil
}

// objectInUse reports whether an installed rule references obj.
// Callers must hold e.mu, so the ruleset cannot change underneath.
func (e *Engine) objectInUse(obj Object) bool {
	rs := e.rules.Load()
	for i := range rs.rules {
		for _, ex := range rs.rules[i].Exprs {
			if r, ok := ex.(*objRef); ok && r.obj == obj {
				return true
			}
		}
	}
	return false
}

// SetRules replaces the engine's rules. In-flight evaluations finish
// against the ruleset they started with.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules.Store(&ruleset{rules: rules})
}

// ObjRef returns an expression that attaches the named object's state
// to each evaluated packet. The reference is resolved now, so rule
// evaluation never takes the configuration lock.
func (e *Engine) ObjRef(name string) (Expr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[name]
	if !ok {
		return nil, fmt.Errorf("engine: no object %q", name)
	}
	return &objRef{name: name, obj: obj}, nil
}

type objRef struct {
	name string
	obj  Object
}

func (r *objRef) Eval(regs *Regs, q *packet.Parsed) {
	r.obj.Eval(q)
}

const attrObjRefName = 1

func (r *objRef) Dump() ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian
	ae.String(attrObjRefName, r.name)
	return ae.Encode()
}

// Immediate is an expression that yields a fixed verdict, ending rule
// evaluation with it.
type Immediate struct {
	V Verdict
}

func (im Immediate) Eval(regs *Regs, q *packet.Parsed) {
	regs.Verdict = im.V
}

const attrImmediateVerdict = 1

func (im Immediate) Dump() ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian
	ae.Uint32(attrImmediateVerdict, uint32(im.V))
	return ae.Encode()
}

var (
	acceptBucket = rate.NewLimiter(rate.Every(10*time.Second), 3)
	dropBucket   = rate.NewLimiter(rate.Every(5*time.Second), 10)
)

func (e *Engine) logVerdict(q *packet.Parsed, v Verdict) {
	if e.logf == nil {
		return
	}
	if v == VerdictDrop && dropBucket.Allow() {
		e.logf("engine: Drop: %v", q)
	} else if v == VerdictAccept && acceptBucket.Allow() {
		e.logf("engine: Accept: %v", q)
	}
}

// Run evaluates the engine's rules against q and returns the verdict.
// A rule ending in Break moves on to the next rule; Drop and Accept
// short-circuit. Packets no rule decides on are accepted.
func (e *Engine) Run(q *packet.Parsed) Verdict {
	rs := e.rules.Load()
	var regs Regs
	for i := range rs.rules {
		regs = Regs{}
		for _, ex := range rs.rules[i].Exprs {
			ex.Eval(&regs, q)
			if regs.Verdict != VerdictContinue {
				break
			}
		}
		switch regs.Verdict {
		case VerdictDrop, VerdictAccept:
			e.logVerdict(q, regs.Verdict)
			return regs.Verdict
		}
		// Break or Continue: next rule.
	}
	return VerdictAccept
}
