// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !dlmtrace

package dlmalloc

const trace = false

func traceLog(op string, a, b uintptr) {}
