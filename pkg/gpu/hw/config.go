// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hw

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Capabilities holds the default Info for each generation, for a typical part of that generation.
var Capabilities = map[Gen]Info{
	Gen9:  {Gen: Gen9, EUCount: 24, ThreadsPerEU: 7, GRFBytes: 32, NumGRFs: 128, SubGroupSizes: []int{8, 16, 32}},
	Gen11: {Gen: Gen11, EUCount: 64, ThreadsPerEU: 7, GRFBytes: 32, NumGRFs: 128, SubGroupSizes: []int{8, 16, 32}},
	XeLP:  {Gen: XeLP, EUCount: 96, ThreadsPerEU: 7, GRFBytes: 32, NumGRFs: 128, SubGroupSizes: []int{8, 16, 32}},
	XeHP: {Gen: XeHP, EUCount: 512, ThreadsPerEU: 8, GRFBytes: 32, NumGRFs: 128, Systolic: true,
		SubGroupSizes: []int{8, 16, 32}},
	XeHPG: {Gen: XeHPG, EUCount: 512, ThreadsPerEU: 8, GRFBytes: 32, NumGRFs: 128, Systolic: true,
		SubGroupSizes: []int{8, 16, 32}},
	XeHPC: {Gen: XeHPC, EUCount: 448, ThreadsPerEU: 8, GRFBytes: 64, NumGRFs: 128, Systolic: true,
		SubGroupSizes: []int{16, 32}},
	Xe2: {Gen: Xe2, EUCount: 160, ThreadsPerEU: 8, GRFBytes: 64, NumGRFs: 128, Systolic: true,
		SubGroupSizes: []int{16, 32}},
	Xe3: {Gen: Xe3, EUCount: 192, ThreadsPerEU: 10, GRFBytes: 64, NumGRFs: 128, Systolic: true,
		SubGroupSizes: []int{16, 32}},
}

// DefaultConfig is the device configuration used by New if the environment variable is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig = "xehpg"

// ConfigEnvVar is the environment variable with the default device configuration to use.
const ConfigEnvVar = "GPUJIT_DEVICE"

// ParseGen returns the generation for the given name (case-insensitive), e.g. "xehpc".
func ParseGen(name string) (Gen, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for ii, genName := range genNames {
		if ii > 0 && genName == name {
			return Gen(ii), nil
		}
	}
	return GenInvalid, errors.Errorf("unknown hardware generation %q, valid values are %q", name, genNames[1:])
}

// New returns the default device.
//
// The default is:
//
// 1. The environment variable GPUJIT_DEVICE is used as a configuration if defined.
// 2. Otherwise the variable DefaultConfig is used.
func New() (*Info, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates a device from the configuration string.
//
// The format of config is "<gen>[:<key>=<value>,...]". The "<gen>" is a generation name (e.g. "xelp")
// and sets the defaults from Capabilities; the optional keys override them:
//
//   - eus: number of execution units.
//   - threads: hardware threads per execution unit.
//   - grf: register size in bytes (32 or 64).
//   - regs: number of registers per thread.
//   - systolic: "true" or "false".
//   - sg: supported sub-group sizes, separated by "|", e.g. "8|16".
func NewWithConfig(config string) (*Info, error) {
	genName := config
	options := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		genName = config[:idx]
		options = config[idx+1:]
	}
	gen, err := ParseGen(genName)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid device configuration %q", config)
	}
	defaults := Capabilities[gen]
	info := defaults.Clone()
	if options == "" {
		return info, nil
	}
	for _, part := range strings.Split(options, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("invalid device configuration %q: option %q is not in the form key=value", config, part)
		}
		if err := info.setOption(key, value); err != nil {
			return nil, errors.WithMessagef(err, "invalid device configuration %q", config)
		}
	}
	return info, nil
}

func (info *Info) setOption(key, value string) error {
	parseInt := func() (int, error) {
		v, err := strconv.Atoi(value)
		if err != nil {
			return 0, errors.Wrapf(err, "option %q", key)
		}
		if v <= 0 {
			return 0, errors.Errorf("option %q must be positive, got %d", key, v)
		}
		return v, nil
	}
	var err error
	switch strings.ToLower(key) {
	case "eus":
		info.EUCount, err = parseInt()
	case "threads":
		info.ThreadsPerEU, err = parseInt()
	case "grf":
		info.GRFBytes, err = parseInt()
		if err == nil && info.GRFBytes != 32 && info.GRFBytes != 64 {
			err = errors.Errorf("option \"grf\" must be 32 or 64, got %d", info.GRFBytes)
		}
	case "regs":
		info.NumGRFs, err = parseInt()
	case "systolic":
		info.Systolic, err = strconv.ParseBool(value)
		if err != nil {
			err = errors.Wrapf(err, "option %q", key)
		}
	case "sg":
		var sizes []int
		for _, s := range strings.Split(value, "|") {
			var v int
			v, err = strconv.Atoi(s)
			if err != nil {
				return errors.Wrapf(err, "option \"sg\"")
			}
			sizes = append(sizes, v)
		}
		info.SubGroupSizes = sizes
	default:
		err = errors.Errorf("unknown option %q", key)
	}
	return err
}
