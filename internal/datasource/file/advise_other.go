//go:build !linux

package file

import "os"

// adviseSequential has no portable equivalent outside Linux.
func adviseSequential(*os.File) {}
