// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package nfttunnel

import "github.com/gonft/gonft/engine"

// Name is the type name the expression and the object register under.
const Name = "tunnel"

// Register makes the tunnel expression and object types available to
// the engine. If the object registration fails the expression is
// unregistered again, so a failed Register leaves no partial state.
func Register() error {
	if err := engine.RegisterExpr(Name, newEngineExpr); err != nil {
		return err
	}
	if err := engine.RegisterObject(Name, newEngineObject); err != nil {
		engine.UnregisterExpr(Name)
		return err
	}
	return nil
}

// Unregister removes the tunnel expression and object types.
func Unregister() {
	engine.UnregisterObject(Name)
	engine.UnregisterExpr(Name)
}
