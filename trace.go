// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build dlmtrace

package dlmalloc

import (
	"fmt"
	"os"
)

const trace = true

func traceLog(op string, a, b uintptr) {
	fmt.Fprintf(os.Stderr, "%s(%#x) %#x\n", op, a, b)
	os.Stderr.Sync()
}
