/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics when cond is false. Reserved for programmer errors
// (impossible stripe shapes, nil buffers) — never for conditions a caller
// can legitimately trigger at runtime.
func Assert(cond bool) {
	if !cond {
		panic("kio: assertion failed")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("kio: " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("kio: unexpected error: %v", err))
	}
}
