// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"fmt"
	"strings"
)

// KernelContext receives the macros of a kernel: integer constants and raw compiler options.
type KernelContext interface {
	// HasMacro returns whether a macro with the given name was already defined, either as an
	// integer constant or through a "-D<name>..." option.
	HasMacro(name string) bool

	// DefineInt defines the macro name with the integer value.
	DefineInt(name string, value int64)

	// AddOption adds a raw compiler option, e.g. "-DFOO=bar".
	AddOption(option string)
}

// Define is one integer macro recorded by KernelCtx.
type Define struct {
	Name  string
	Value int64
}

// KernelCtx is a KernelContext that records the defines and options in the order they were added.
type KernelCtx struct {
	defines []Define
	index   map[string]int
	options []string
}

// NewKernelCtx returns an empty KernelCtx.
func NewKernelCtx() *KernelCtx {
	return &KernelCtx{index: make(map[string]int)}
}

var _ KernelContext = (*KernelCtx)(nil)

// HasMacro implements KernelContext.
func (k *KernelCtx) HasMacro(name string) bool {
	if _, found := k.index[name]; found {
		return true
	}
	prefix := "-D" + name
	for _, opt := range k.options {
		if opt == prefix || strings.HasPrefix(opt, prefix+"=") {
			return true
		}
	}
	return false
}

// DefineInt implements KernelContext. Redefining a macro replaces its value, keeping its position.
func (k *KernelCtx) DefineInt(name string, value int64) {
	if idx, found := k.index[name]; found {
		k.defines[idx].Value = value
		return
	}
	k.index[name] = len(k.defines)
	k.defines = append(k.defines, Define{Name: name, Value: value})
}

// AddOption implements KernelContext.
func (k *KernelCtx) AddOption(option string) {
	k.options = append(k.options, option)
}

// Defines returns the integer macros, in definition order.
func (k *KernelCtx) Defines() []Define {
	return append([]Define(nil), k.defines...)
}

// Int returns the value of the integer macro and whether it is defined.
func (k *KernelCtx) Int(name string) (int64, bool) {
	idx, found := k.index[name]
	if !found {
		return 0, false
	}
	return k.defines[idx].Value, true
}

// Options returns the raw options, in the order they were added.
func (k *KernelCtx) Options() []string {
	return append([]string(nil), k.options...)
}

// Option returns the value of the option "-D<name>=<value>" and whether it was found.
func (k *KernelCtx) Option(name string) (string, bool) {
	prefix := "-D" + name + "="
	for _, opt := range k.options {
		if value, found := strings.CutPrefix(opt, prefix); found {
			return value, true
		}
	}
	return "", false
}

// CompilerOptions returns the options followed by the defines formatted as "-D<name>=<value>".
func (k *KernelCtx) CompilerOptions() []string {
	res := k.Options()
	for _, d := range k.defines {
		res = append(res, fmt.Sprintf("-D%s=%d", d.Name, d.Value))
	}
	return res
}
