package diskstore

import (
	"time"

	"github.com/rs/zerolog"
)

// Placement controls where a new entry's bytes are stored.
type Placement int

const (
	// PlacementMixed places inline when bytes fit inlineThreshold,
	// external otherwise. This is the default.
	PlacementMixed Placement = iota
	// PlacementSQLiteOnly always stores inline, regardless of size.
	PlacementSQLiteOnly
	// PlacementFileOnly always stores externally; a filename must be
	// derivable (via CustomFileName or the default SHA-256 namer).
	PlacementFileOnly
)

const defaultInlineThreshold = 20 * 1024 // 20 KiB, spec.md §4.6

// DiskOption configures a Tier at Open time.
type DiskOption func(*Tier)

// WithInlineThreshold sets the byte-size cutoff used by PlacementMixed.
func WithInlineThreshold(n int64) DiskOption {
	return func(t *Tier) { t.inlineThreshold = n }
}

// WithPlacement overrides the default mixed placement mode.
func WithPlacement(p Placement) DiskOption {
	return func(t *Tier) { t.placement = p }
}

// WithCountLimit bounds the number of resident rows. Zero means unlimited.
func WithCountLimit(n uint64) DiskOption {
	return func(t *Tier) { t.countLimit = n }
}

// WithCostLimit bounds total stored bytes (manifest.size summed). Zero
// means unlimited.
func WithCostLimit(n uint64) DiskOption {
	return func(t *Tier) { t.costLimit = n }
}

// WithAgeLimit bounds how long an entry may go unaccessed. Zero means
// unlimited.
func WithAgeLimit(age time.Duration) DiskOption {
	return func(t *Tier) { t.ageLimit = age }
}

// WithFreeDiskSpaceLimit triggers a cost-trim whenever the cache volume's
// free space drops below the given number of bytes. Zero disables the
// check.
func WithFreeDiskSpaceLimit(n uint64) DiskOption {
	return func(t *Tier) { t.freeDiskSpaceLimit = n }
}

// WithAutoTrimInterval sets the background trimmer tick. Default 60s,
// matching spec.md §4.6. Non-positive disables the background trimmer.
func WithAutoTrimInterval(d time.Duration) DiskOption {
	return func(t *Tier) { t.autoTrimInterval = d }
}

// WithCustomFileName overrides the default SHA-256-hex external filename
// derivation. If the hook returns an empty string, the tier falls back to
// the default namer rather than failing the write.
func WithCustomFileName(fn func(key string) string) DiskOption {
	return func(t *Tier) { t.customFileName = fn }
}

// WithErrorLogsEnabled gates debug-level logging of SQL/IO failures.
func WithErrorLogsEnabled(v bool) DiskOption {
	return func(t *Tier) { t.errorLogsEnabled = v }
}

// WithLogger attaches a zerolog.Logger. The zero value is zerolog.Nop().
func WithLogger(log zerolog.Logger) DiskOption {
	return func(t *Tier) { t.log = log }
}

// WithWorkerConcurrency bounds how many completion-callback operations the
// tier's worker pool runs at once. Default 4.
func WithWorkerConcurrency(n int64) DiskOption {
	return func(t *Tier) { t.workerConcurrency = n }
}
