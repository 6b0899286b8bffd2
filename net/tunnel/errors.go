// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package tunnel

import "errors"

var (
	// ErrMissingAttr is returned when a required attribute is absent
	// from a configuration tree and no default exists for it.
	ErrMissingAttr = errors.New("required attribute missing")
	// ErrUnsupported is returned for a recognized but unsupported
	// value: an unknown flag bit, option kind, or ERSPAN version, or a
	// configuration carrying mutually exclusive sub-trees.
	ErrUnsupported = errors.New("unsupported attribute value")
)
