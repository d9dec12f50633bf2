/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize renders payload and response sizes for the verbose log.
func humanReadableSize[T ~int | ~int64](n T) string {
	const unit = 1000

	size := float64(n)
	if size < unit {
		return fmt.Sprintf("%d B", int64(n))
	}

	suffixes := []string{"kB", "MB", "GB", "TB", "PB", "EB"}
	i := -1
	for size >= unit && i < len(suffixes)-1 {
		size /= unit
		i++
	}

	return fmt.Sprintf("%.1f %s", size, suffixes[i])
}
