package commands

import "github.com/dustin/go-humanize"

// humanizeBytes renders a byte count the way stats and format print their
// sizes, e.g. "512 MB".
func humanizeBytes(n uint64) string {
	return humanize.Bytes(n)
}
