// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !unix

package filestore

import "os"

const flockSupported = false

func flock(fh *os.File) error { return nil }
