// Copyright 2018 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package errors wraps github.com/pkg/errors with the call-site
// Trace helper used throughout the metanode/sdk packages.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Trace prepends format/a to err's message and preserves the original
// as the cause, matching errors.Trace(err, "...") call sites.
func Trace(err error, format string, a ...interface{}) error {
	if err == nil {
		return pkgerrors.Errorf(format, a...)
	}
	msg := fmt.Sprintf(format, a...)
	return pkgerrors.Wrap(err, msg)
}

// New is a thin re-export so callers need only import this package.
func New(format string, a ...interface{}) error {
	return pkgerrors.Errorf(format, a...)
}

// Cause returns the deepest wrapped error, as pkg/errors.Cause does.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
