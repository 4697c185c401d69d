// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import "errors"

// Sentinel errors for node operations.
var (
	// ErrMalformedOutput is returned when the model response does not
	// contain the expected JSON object.
	ErrMalformedOutput = errors.New("model output is not the expected JSON object")

	// ErrNoCustomerTurn is returned when a node needs a customer
	// utterance and the transcript has none.
	ErrNoCustomerTurn = errors.New("transcript contains no customer turn")

	// ErrNilDependency is returned at wiring time when a required
	// handle is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)
