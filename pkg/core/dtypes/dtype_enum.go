// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import "strconv"

// DType is an enum that represents the data type of register operands.
//
// The long names follow Go conventions, and the hardware short names (b, ub, w, ...) are provided as aliases.
type DType int32

const (
	// InvalidDType is the zero value, used as "no type".
	InvalidDType DType = 0

	// Int8 is a signed byte (hardware "b").
	Int8 DType = 1

	// Uint8 is an unsigned byte (hardware "ub").
	Uint8 DType = 2

	// Int16 is a signed word (hardware "w").
	Int16 DType = 3

	// Uint16 is an unsigned word (hardware "uw").
	Uint16 DType = 4

	// Int32 is a signed double-word (hardware "d").
	Int32 DType = 5

	// Uint32 is an unsigned double-word (hardware "ud").
	Uint32 DType = 6

	// Int64 is a signed quad-word (hardware "q").
	Int64 DType = 7

	// Uint64 is an unsigned quad-word (hardware "uq").
	Uint64 DType = 8

	// Float16 is the IEEE half-precision float (hardware "hf").
	Float16 DType = 9

	// BFloat16 is the truncated 16 bits float with float32 exponent range (hardware "bf").
	BFloat16 DType = 10

	// Float32 is the IEEE single-precision float (hardware "f").
	Float32 DType = 11

	// Float64 is the IEEE double-precision float (hardware "df").
	Float64 DType = 12

	// TF32 is stored as a float32 in registers, only its 10 upper mantissa bits are meaningful.
	TF32 DType = 13

	// BF8 is the 8 bits float with 5 bits exponent and 2 bits mantissa (E5M2). It has infinities.
	BF8 DType = 14

	// HF8 is the 8 bits float with 4 bits exponent and 3 bits mantissa (E4M3FN): no infinities,
	// and only S.1111.111 encodes NaN.
	HF8 DType = 15

	// F4E2M1 is a 4 bits float with 2 bits exponent and 1 bit mantissa. No infinities or NaN.
	F4E2M1 DType = 16

	// F4E3M0 is a 4 bits float with 3 bits exponent and no mantissa. No infinities or NaN.
	F4E3M0 DType = 17

	// Int4 is a signed 4 bits integer, two values packed per byte.
	Int4 DType = 18

	// Uint4 is an unsigned 4 bits integer, two values packed per byte.
	Uint4 DType = 19
)

// Hardware short names.
const (
	B    = Int8
	UB   = Uint8
	W    = Int16
	UW   = Uint16
	D    = Int32
	UD   = Uint32
	Q    = Int64
	UQ   = Uint64
	HF   = Float16
	BF   = BFloat16
	F    = Float32
	DF   = Float64
	S4   = Int4
	U4   = Uint4
	E5M2 = BF8
	E4M3 = HF8
)

// All lists every valid DType, in enum order.
var All = []DType{
	Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64,
	Float16, BFloat16, Float32, Float64, TF32, BF8, HF8, F4E2M1, F4E3M0, Int4, Uint4,
}

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Int8:         "Int8",
	Uint8:        "Uint8",
	Int16:        "Int16",
	Uint16:       "Uint16",
	Int32:        "Int32",
	Uint32:       "Uint32",
	Int64:        "Int64",
	Uint64:       "Uint64",
	Float16:      "Float16",
	BFloat16:     "BFloat16",
	Float32:      "Float32",
	Float64:      "Float64",
	TF32:         "TF32",
	BF8:          "BF8",
	HF8:          "HF8",
	F4E2M1:       "F4E2M1",
	F4E3M0:       "F4E3M0",
	Int4:         "Int4",
	Uint4:        "Uint4",
}

var shortNames = map[DType]string{
	Int8:     "b",
	Uint8:    "ub",
	Int16:    "w",
	Uint16:   "uw",
	Int32:    "d",
	Uint32:   "ud",
	Int64:    "q",
	Uint64:   "uq",
	Float16:  "hf",
	BFloat16: "bf",
	Float32:  "f",
	Float64:  "df",
	TF32:     "tf32",
	BF8:      "bf8",
	HF8:      "hf8",
	F4E2M1:   "f4_e2m1",
	F4E3M0:   "f4_e3m0",
	Int4:     "s4",
	Uint4:    "u4",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// ShortName returns the hardware assembly name of the type, e.g. "ud" for Uint32.
func (dtype DType) ShortName() string {
	if name, found := shortNames[dtype]; found {
		return name
	}
	return dtype.String()
}

// MapOfNames to their dtypes. It includes the hardware short names as aliases.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Int8":         Int8,
	"S8":           Int8,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Int16":        Int16,
	"S16":          Int16,
	"Uint16":       Uint16,
	"U16":          Uint16,
	"Int32":        Int32,
	"S32":          Int32,
	"Uint32":       Uint32,
	"U32":          Uint32,
	"Int64":        Int64,
	"S64":          Int64,
	"Uint64":       Uint64,
	"U64":          Uint64,
	"Float16":      Float16,
	"F16":          Float16,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
	"TF32":         TF32,
	"BF8":          BF8,
	"F8E5M2":       BF8,
	"HF8":          HF8,
	"F8E4M3FN":     HF8,
	"F4E2M1":       F4E2M1,
	"F4E2M1FN":     F4E2M1,
	"F4E3M0":       F4E3M0,
	"Int4":         Int4,
	"S4":           Int4,
	"Uint4":        Uint4,
	"U4":           Uint4,
}
